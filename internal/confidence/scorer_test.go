package confidence

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newScorer() *Scorer {
	return New(DefaultConfig()).WithClock(func() time.Time { return t0 })
}

func fnd(id, host, claim string, cred float64) types.Finding {
	return types.Finding{
		ID: id, SourceURL: "https://" + host + "/doc", Subject: "Acme Corp", Attribute: "revenue",
		Claim: claim, SourceCredibility: cred, RelevanceScore: 0.9, Timestamp: t0,
	}
}

var openConflict = &types.Conflict{ID: "c", Status: types.ConflictOpen, Severity: types.SeverityMedium}

func TestScoreEmpty(t *testing.T) {
	sc := newScorer().Score("acme corp", "revenue", nil, nil)
	assert.Zero(t, sc.Value)
	assert.Zero(t, sc.Findings)
	require.Len(t, sc.Factors, 5)
}

func TestScoreSingleFinding(t *testing.T) {
	sc := newScorer().Score("acme corp", "revenue", []types.Finding{fnd("f1", "sec.gov", "$10M", 0.9)}, nil)

	want := 0.6 * (1 - math.Exp(-0.9/1.5))
	assert.InDelta(t, want, sc.Value, 1e-9)
	assert.Equal(t, 1, sc.Findings)
	assert.Equal(t, t0, sc.ComputedAt)

	names := make([]string, len(sc.Factors))
	for i, f := range sc.Factors {
		names[i] = f.Name
	}
	assert.Equal(t, []string{
		FactorCorroborationMass, FactorIndependentSources, FactorConsensusShare,
		FactorConflictPenalty, FactorMeanCredibility,
	}, names)
	mean, ok := sc.Factor(FactorMeanCredibility)
	require.True(t, ok)
	assert.InDelta(t, 0.9, mean, 1e-9)
}

func TestCorroborationRaisesScore(t *testing.T) {
	s := newScorer()
	one := s.Score("acme corp", "revenue", []types.Finding{fnd("f1", "sec.gov", "$10M", 0.9)}, nil)
	two := s.Score("acme corp", "revenue", []types.Finding{
		fnd("f1", "sec.gov", "$10M", 0.9),
		fnd("f2", "reuters.com", "10.1 million", 0.85),
	}, nil)
	assert.Greater(t, two.Value, one.Value)
}

func TestSameHostCountsOnce(t *testing.T) {
	s := newScorer()
	one := s.Score("acme corp", "revenue", []types.Finding{fnd("f1", "sec.gov", "$10M", 0.9)}, nil)
	dup := s.Score("acme corp", "revenue", []types.Finding{
		fnd("f1", "sec.gov", "$10M", 0.9),
		fnd("f2", "www.sec.gov", "$10M", 0.7),
	}, nil)
	assert.InDelta(t, one.Value, dup.Value, 1e-12)
	assert.Equal(t, 1, dup.Findings)
}

func TestSameHostContradictionIsDissent(t *testing.T) {
	s := newScorer()
	before := s.Score("acme corp", "revenue", []types.Finding{fnd("f1", "reuters.com", "$10M", 0.7)}, nil)
	after := s.Score("acme corp", "revenue", []types.Finding{
		fnd("f1", "reuters.com", "$10M", 0.7),
		fnd("f2", "reuters.com", "$4M", 0.9),
	}, openConflict)

	assert.Equal(t, 2, after.Findings)
	assert.LessOrEqual(t, after.Value, before.Value)
	penalty, _ := after.Factor(FactorConflictPenalty)
	assert.InDelta(t, 0.5*0.7, penalty, 1e-9)
	share, _ := after.Factor(FactorConsensusShare)
	assert.InDelta(t, 0.9/1.6, share, 1e-9)
}

func TestOpenConflictPenalizes(t *testing.T) {
	s := newScorer()
	findings := []types.Finding{
		fnd("f1", "sec.gov", "$10M", 0.9),
		fnd("f2", "blog.example.com", "$4M", 0.6),
	}
	single := s.Score("acme corp", "revenue", findings[:1], nil)
	open := s.Score("acme corp", "revenue", findings, openConflict)
	resolved := s.Score("acme corp", "revenue", findings, &types.Conflict{Status: types.ConflictResolved})

	assert.Less(t, open.Value, resolved.Value)
	assert.Less(t, resolved.Value, single.Value)

	penalty, _ := open.Factor(FactorConflictPenalty)
	assert.InDelta(t, 0.5*0.6, penalty, 1e-9)
	share, _ := open.Factor(FactorConsensusShare)
	assert.InDelta(t, 0.9/1.5, share, 1e-9)
	noPenalty, _ := resolved.Factor(FactorConflictPenalty)
	assert.Zero(t, noPenalty)
}

func TestPenaltyDecaysWithDissentAge(t *testing.T) {
	s := newScorer()
	old := fnd("f2", "blog.example.com", "$4M", 0.6)
	published := t0.Add(-72 * time.Hour)
	old.PublishedDate = &published

	sc := s.Score("acme corp", "revenue", []types.Finding{fnd("f1", "sec.gov", "$10M", 0.9), old}, openConflict)
	penalty, _ := sc.Factor(FactorConflictPenalty)
	assert.InDelta(t, 0.5*0.6*0.5, penalty, 1e-9)
}

func TestScoreIsInputOrderIndependent(t *testing.T) {
	s := newScorer()
	a := []types.Finding{
		fnd("f1", "sec.gov", "$10M", 0.9),
		fnd("f2", "blog.example.com", "$4M", 0.6),
		fnd("f3", "reuters.com", "$10.2M", 0.85),
	}
	b := []types.Finding{a[2], a[0], a[1]}
	assert.Equal(t, s.Score("k", "revenue", a, openConflict), s.Score("k", "revenue", b, openConflict))
}

// Against a fixed anchor: corroboration never lowers the score and
// dissent never raises it.
func TestMonotonicity(t *testing.T) {
	s := newScorer()
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		var findings []types.Finding
		for i := 0; i < 3; i++ {
			findings = append(findings, fnd(fmt.Sprintf("c%d", i), fmt.Sprintf("press%d.com", i), "$10M", 0.5+rng.Float64()/2))
		}
		var conflict *types.Conflict
		prev := s.Score("acme corp", "revenue", findings, conflict).Value
		dissents := 0

		for step := 0; step < 8; step++ {
			if rng.Intn(2) == 0 || dissents == 3 {
				id := fmt.Sprintf("c%d", len(findings))
				findings = append(findings, fnd(id, "host-"+id+".com", "$10.1M", 0.1+0.9*rng.Float64()))
				cur := s.Score("acme corp", "revenue", findings, conflict).Value
				assert.GreaterOrEqual(t, cur+1e-12, prev, "trial %d step %d: corroboration lowered score", trial, step)
				prev = cur
				continue
			}
			id := fmt.Sprintf("d%d", dissents)
			host := "host-" + id + ".com"
			if dissents%2 == 1 {
				// A consensus host contradicting itself.
				host = fmt.Sprintf("press%d.com", dissents)
			}
			dissents++
			findings = append(findings, fnd(id, host, "$4M", 0.1+0.2*rng.Float64()))
			conflict = openConflict
			cur := s.Score("acme corp", "revenue", findings, conflict).Value
			assert.LessOrEqual(t, cur, prev+1e-12, "trial %d step %d: dissent raised score", trial, step)
			prev = cur
		}
	}
}

func TestAggregate(t *testing.T) {
	s := newScorer()
	entities := []types.Entity{
		{Name: "Acme Corp", Significance: types.SignificancePrimary},
		{Name: "Globex", Significance: types.SignificanceRelationship},
		{Name: "Initech", Significance: types.SignificanceMentioned},
	}
	scores := []types.ConfidenceScore{
		{Subject: "acme corp", Attribute: "revenue", Value: 0.8, Findings: 3},
		{Subject: "globex", Attribute: "ceo", Value: 0.4, Findings: 1},
		{Subject: "initech", Attribute: "revenue", Value: 0.1, Findings: 10},
	}

	agg := s.Aggregate(scores, entities)
	assert.InDelta(t, (0.8*3+0.4*1)/4, agg.Value, 1e-9)
	assert.Equal(t, 4, agg.Findings)
	assert.Equal(t, AggregateAttribute, agg.Attribute)

	onlyMentioned := s.Aggregate(scores[2:], entities)
	assert.InDelta(t, 0.1, onlyMentioned.Value, 1e-9, "falls back to all keys")

	assert.Zero(t, s.Aggregate(nil, entities).Value)
}

func TestAggregateKeepsSameNameEntitiesApart(t *testing.T) {
	entities := []types.Entity{
		{Name: "Jordan", Type: types.EntityPerson, Significance: types.SignificancePrimary},
		{Name: "Jordan", Type: types.EntityPlace, Significance: types.SignificanceMentioned},
	}
	scores := []types.ConfidenceScore{
		{Subject: "jordan (person)", Attribute: "founded", Value: 0.9, Findings: 2},
		{Subject: "jordan (place)", Attribute: "founded", Value: 0.1, Findings: 5},
	}
	agg := newScorer().Aggregate(scores, entities)
	assert.InDelta(t, 0.9, agg.Value, 1e-9)
	assert.Equal(t, 2, agg.Findings)
}
