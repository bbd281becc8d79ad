package conflict

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func finding(id, url, attr, claim string, cred float64) types.Finding {
	return types.Finding{
		ID: id, SourceURL: url, Subject: "Acme Corp", Attribute: attr, Claim: claim,
		SourceCredibility: cred, RelevanceScore: 0.8, Timestamp: t0,
	}
}

func verify(f types.Finding) types.Finding {
	f.Verification = true
	return f
}

func newDetector() *Detector {
	clock := t0
	return New(DefaultConfig()).WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
}

func resolver() *types.Resolver {
	return types.NewResolver([]types.Entity{{Name: "Acme Corp", Aliases: []string{"Acme", "ACME Corporation"}}})
}

func TestAgreeingFindingsProduceNoConflict(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(resolver())

	assert.Nil(t, d.Check(finding("f1", "https://a.com", "revenue", "$10M", 0.9), ix).Conflict)
	ch := d.Check(finding("f2", "https://b.com", "revenue", "10.2 million", 0.8), ix)
	assert.Nil(t, ch.Conflict)
	assert.False(t, ch.New)
	assert.Len(t, ix.Findings(ch.Key), 2)
}

func TestAcmeRevenueConflictIsMedium(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(resolver())

	d.Check(finding("f1", "https://sec.gov/acme", "revenue", "$10M", 0.9), ix)
	ch := d.Check(finding("f2", "https://blog.example.com", "revenue", "$4M", 0.6), ix)

	require.NotNil(t, ch.Conflict)
	assert.True(t, ch.New)
	assert.False(t, ch.Resolved)
	c := ch.Conflict
	assert.Equal(t, []string{"f1", "f2"}, c.MemberFindingIDs)
	assert.Equal(t, types.SeverityMedium, c.Severity)
	assert.Equal(t, types.ConflictOpen, c.Status)
	assert.Equal(t, "acme corp", c.Subject)
	assert.Equal(t, "revenue", c.Attribute)
	assert.Same(t, c, ix.Conflict(ch.Key))
}

func TestSeverityGrades(t *testing.T) {
	tests := []struct {
		a, b float64
		want types.Severity
	}{
		{0.95, 0.92, types.SeverityHigh},
		{0.9, 0.9, types.SeverityHigh},
		{0.9, 0.6, types.SeverityMedium},
		{0.4, 0.3, types.SeverityLow},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f-%.2f", tt.a, tt.b), func(t *testing.T) {
			d := newDetector()
			ix := d.NewIndex(nil)
			d.Check(finding("f1", "https://a.com", "ceo", "Jane Doe", tt.a), ix)
			ch := d.Check(finding("f2", "https://b.com", "ceo", "John Roe", tt.b), ix)
			require.NotNil(t, ch.Conflict)
			assert.Equal(t, tt.want, ch.Conflict.Severity)
		})
	}
}

func TestSeverityIsWorstPair(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(nil)
	d.Check(finding("f1", "https://a.com", "revenue", "$10M", 0.95), ix)
	d.Check(finding("f2", "https://b.com", "revenue", "$4M", 0.3), ix)
	ch := d.Check(finding("f3", "https://c.com", "revenue", "$7M", 0.92), ix)

	// f1/f3 diverge with min 0.92.
	assert.Equal(t, types.SeverityHigh, ch.Conflict.Severity)
	assert.Equal(t, []string{"f1", "f2", "f3"}, ch.Conflict.MemberFindingIDs)
}

func TestVerificationResolvesConflict(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(resolver())
	d.Check(finding("f1", "https://sec.gov/acme", "revenue", "$10M", 0.9), ix)
	d.Check(finding("f2", "https://blog.example.com", "revenue", "$4M", 0.6), ix)

	ch := d.Check(verify(finding("v1", "https://www.sec.gov/10k", "revenue", "10.2 million", 0.95)), ix)
	require.NotNil(t, ch.Conflict)
	assert.True(t, ch.Resolved)
	assert.False(t, ch.New)
	c := ch.Conflict
	assert.Equal(t, types.ConflictResolved, c.Status)
	require.NotNil(t, c.Resolution)
	assert.Equal(t, "v1", c.Resolution.FindingID)
	assert.Contains(t, c.Resolution.Reason, "sec.gov")
	// v1 diverges from f2, so it is a member too.
	assert.Equal(t, []string{"f1", "f2", "v1"}, c.MemberFindingIDs)
}

func TestWeakVerificationDoesNotResolve(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(nil)
	d.Check(finding("f1", "https://a.com", "revenue", "$10M", 0.9), ix)
	d.Check(finding("f2", "https://b.com", "revenue", "$4M", 0.85), ix)

	// Diverges from f2 at 0.85; needs 0.95.
	ch := d.Check(verify(finding("v1", "https://c.gov", "revenue", "$10M", 0.9)), ix)
	assert.Equal(t, types.ConflictOpen, ch.Conflict.Status)
	assert.False(t, ch.Resolved)
}

func TestNeutralVerificationDoesNotResolve(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(nil)
	d.Check(finding("f1", "https://a.com", "revenue", "$10M", 0.6), ix)
	d.Check(finding("f2", "https://b.com", "revenue", "$10.8M", 0.6), ix)

	// Within tolerance of both sides: takes no side.
	ch := d.Check(verify(finding("v1", "https://c.gov", "revenue", "$10.4M", 0.95)), ix)
	assert.Equal(t, types.ConflictOpen, ch.Conflict.Status)
	assert.Equal(t, []string{"f1", "f2"}, ch.Conflict.MemberFindingIDs)
}

func TestStrongDissentReopens(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(nil)
	d.Check(finding("f1", "https://a.com", "revenue", "$10M", 0.9), ix)
	d.Check(finding("f2", "https://b.com", "revenue", "$4M", 0.6), ix)
	resolved := d.Check(verify(finding("v1", "https://c.gov", "revenue", "$10M", 0.95)), ix)
	require.True(t, resolved.Resolved)

	ch := d.Check(finding("f3", "https://reuters.com", "revenue", "$4.1M", 0.9), ix)
	assert.True(t, ch.Reopened)
	assert.Equal(t, types.ConflictOpen, ch.Conflict.Status)
	assert.Nil(t, ch.Conflict.Resolution)
	assert.Equal(t, resolved.Conflict.DetectedAt, ch.Conflict.DetectedAt)
}

func TestAliasesShareKey(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(resolver())
	a := finding("f1", "https://a.com", "revenue", "$10M", 0.9)
	b := finding("f2", "https://b.com", "Revenue", "$4M", 0.9)
	b.Subject = "ACME"

	d.Check(a, ix)
	ch := d.Check(b, ix)
	require.NotNil(t, ch.Conflict)
	assert.Equal(t, ix.KeyOf(a), ch.Key)
}

func TestSameNameDifferentTypeDoesNotConflict(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(types.NewResolver([]types.Entity{
		{Name: "Jordan", Type: types.EntityPerson},
		{Name: "Jordan", Type: types.EntityPlace},
	}))
	person := finding("f1", "https://a.com", "founded", "1963", 0.9)
	person.Subject, person.SubjectType = "Jordan", types.EntityPerson
	place := finding("f2", "https://b.com", "founded", "1946", 0.9)
	place.Subject, place.SubjectType = "Jordan", types.EntityPlace

	d.Check(person, ix)
	ch := d.Check(place, ix)
	assert.Nil(t, ch.Conflict)
	assert.NotEqual(t, ix.KeyOf(person), ix.KeyOf(place))
	assert.Equal(t, "jordan (place)", ch.Key.Subject)
}

func TestDateClaims(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(nil)
	d.Check(finding("f1", "https://a.com", "founded", "2019", 0.8), ix)
	ch := d.Check(finding("f2", "https://b.com", "founded", "March 2019", 0.8), ix)
	assert.Nil(t, ch.Conflict, "a month inside the year agrees")

	ch = d.Check(finding("f3", "https://c.com", "founded", "2021", 0.8), ix)
	require.NotNil(t, ch.Conflict)
	assert.Equal(t, []string{"f1", "f2", "f3"}, ch.Conflict.MemberFindingIDs)
}

func TestConflictIDIsDeterministic(t *testing.T) {
	k := Key{Subject: "acme corp", Attribute: "revenue"}
	assert.Equal(t, k.ID(), Key{Subject: "acme corp", Attribute: "revenue"}.ID())
	assert.NotEqual(t, k.ID(), Key{Subject: "acme corp", Attribute: "ceo"}.ID())
	assert.Regexp(t, `^conflict-[0-9a-f]{12}$`, k.ID())
}

func TestDetectionIsOrderIndependent(t *testing.T) {
	base := []types.Finding{
		finding("f1", "https://a.com", "revenue", "$10M", 0.9),
		finding("f2", "https://b.com", "revenue", "$4M", 0.6),
		finding("f3", "https://c.com", "revenue", "$10.1M", 0.7),
		verify(finding("v1", "https://sec.gov", "revenue", "$10.2M", 0.95)),
		finding("f4", "https://d.com", "ceo", "Jane Doe", 0.8),
		finding("f5", "https://e.com", "ceo", "John Roe", 0.5),
	}

	type shape struct {
		members  []string
		severity types.Severity
		status   types.ConflictStatus
		resolver string
	}
	snapshot := func(ix *Index) map[Key]shape {
		out := map[Key]shape{}
		for _, k := range ix.Keys() {
			c := ix.Conflict(k)
			if c == nil {
				continue
			}
			s := shape{members: c.MemberFindingIDs, severity: c.Severity, status: c.Status}
			if c.Resolution != nil {
				s.resolver = c.Resolution.FindingID
			}
			out[k] = s
		}
		return out
	}

	d := newDetector()
	ref := d.NewIndex(nil)
	for _, f := range base {
		d.Check(f, ref)
	}
	want := snapshot(ref)
	require.Len(t, want, 2)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		perm := append([]types.Finding(nil), base...)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		ix := d.NewIndex(nil)
		for _, f := range perm {
			d.Check(f, ix)
		}
		assert.Equal(t, want, snapshot(ix), "permutation %d", i)
	}
}

func TestRestoreKeepsTimestamps(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(nil)
	findings := []types.Finding{
		finding("f1", "https://a.com", "revenue", "$10M", 0.9),
		finding("f2", "https://b.com", "revenue", "$4M", 0.6),
	}
	var last Change
	for _, f := range findings {
		last = d.Check(f, ix)
	}
	stored := *last.Conflict

	restored := d.Restore(nil, findings, []types.Conflict{stored})
	c := restored.Conflict(last.Key)
	require.NotNil(t, c)
	assert.Equal(t, stored.DetectedAt, c.DetectedAt)
	assert.Equal(t, stored.MemberFindingIDs, c.MemberFindingIDs)
	assert.Equal(t, 2, restored.Len())
}

func TestDuplicateFindingIsIgnored(t *testing.T) {
	d := newDetector()
	ix := d.NewIndex(nil)
	f := finding("f1", "https://a.com", "revenue", "$10M", 0.9)
	d.Check(f, ix)
	d.Check(f, ix)
	assert.Equal(t, 1, ix.Len())
}
