package conflict

import (
	"fmt"
	"slices"
	"time"

	"sleuth/internal/logging"
	"sleuth/internal/types"
)

// Config holds the detection thresholds.
type Config struct {
	NumericTolerance float64
	HighSeverity     float64
	MediumSeverity   float64
	ResolutionMargin float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		NumericTolerance: 0.05,
		HighSeverity:     0.9,
		MediumSeverity:   0.5,
		ResolutionMargin: 0.1,
	}
}

// Change describes what a Check did to a key's conflict.
type Change struct {
	Key      Key
	Conflict *types.Conflict // nil when the key has no divergence
	New      bool            // conflict created by this check
	Reopened bool            // resolved before, open now
	Resolved bool            // open (or new) before, resolved now
}

// Detector evaluates findings against an Index.
type Detector struct {
	cfg Config
	now func() time.Time
}

// New creates a Detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg, now: time.Now}
}

// WithClock replaces the timestamp source.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// NewIndex creates an index using the detector's tolerance.
func (d *Detector) NewIndex(resolver *types.Resolver) *Index {
	return NewIndex(resolver, d.cfg.NumericTolerance)
}

// Check adds f to ix and re-evaluates the conflict of its key. Work is
// linear in the key's population.
func (d *Detector) Check(f types.Finding, ix *Index) Change {
	ch := d.evaluate(f, ix)
	c := ch.Conflict
	switch {
	case c == nil:
	case ch.New:
		logging.Conflict("Conflict %s on %s: %d members, severity %s", c.ID, ch.Key, len(c.MemberFindingIDs), c.Severity)
	case ch.Reopened:
		logging.Conflict("Conflict %s on %s re-opened by %s", c.ID, ch.Key, f.ID)
	default:
		logging.ConflictDebug("Conflict %s on %s re-evaluated: %d members, status %s", c.ID, ch.Key, len(c.MemberFindingIDs), c.Status)
	}
	if ch.Resolved {
		logging.Conflict("Conflict %s resolved by %s", c.ID, c.Resolution.FindingID)
	}
	return ch
}

func (d *Detector) evaluate(f types.Finding, ix *Index) Change {
	b := ix.add(f)
	ch := Change{Key: b.key}
	if b.worstMin < 0 {
		return ch
	}

	now := d.now()
	prev := b.conflict
	c := &types.Conflict{
		ID:               b.key.ID(),
		Subject:          b.key.Subject,
		Attribute:        b.key.Attribute,
		MemberFindingIDs: b.members(),
		Severity:         d.severity(b.worstMin),
		Status:           types.ConflictOpen,
		DetectedAt:       now,
		UpdatedAt:        now,
	}
	if prev != nil {
		c.DetectedAt = prev.DetectedAt
	}
	if res := d.resolve(b, now); res != nil {
		c.Status = types.ConflictResolved
		c.Resolution = res
		if prev != nil && prev.Resolution != nil && prev.Resolution.FindingID == res.FindingID {
			c.Resolution.ResolvedAt = prev.Resolution.ResolvedAt
		}
	}

	switch {
	case prev == nil:
		ch.New = true
		ch.Resolved = c.Status == types.ConflictResolved
	case prev.Status == types.ConflictResolved && c.Status == types.ConflictOpen:
		ch.Reopened = true
	case prev.Status == types.ConflictOpen && c.Status == types.ConflictResolved:
		ch.Resolved = true
	}
	if prev != nil && !ch.Reopened && !ch.Resolved && sameShape(prev, c) {
		c.UpdatedAt = prev.UpdatedAt
	}

	b.conflict = c
	ch.Conflict = c
	return ch
}

func (d *Detector) severity(worstMin float64) types.Severity {
	switch {
	case worstMin >= d.cfg.HighSeverity:
		return types.SeverityHigh
	case worstMin >= d.cfg.MediumSeverity:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// resolve picks the most credible verification finding that both takes a
// side and outweighs everything it disagrees with by the margin.
func (d *Detector) resolve(b *bucket, now time.Time) *types.Resolution {
	var best *entry
	for _, e := range b.entries {
		if !e.finding.Verification || !e.isMember() {
			continue
		}
		if e.finding.SourceCredibility+1e-9 < e.maxDivergent+d.cfg.ResolutionMargin {
			continue
		}
		if best == nil || e.finding.SourceCredibility > best.finding.SourceCredibility ||
			(e.finding.SourceCredibility == best.finding.SourceCredibility && e.finding.ID < best.finding.ID) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return &types.Resolution{
		FindingID: best.finding.ID,
		Reason: fmt.Sprintf("verification source %s (credibility %.2f) outweighs dissent (max %.2f)",
			best.finding.SourceHost(), best.finding.SourceCredibility, best.maxDivergent),
		ResolvedAt: now,
	}
}

func sameShape(a, b *types.Conflict) bool {
	return a.Severity == b.Severity && a.Status == b.Status && slices.Equal(a.MemberFindingIDs, b.MemberFindingIDs)
}

// Restore rebuilds an index from persisted findings and conflicts without
// reporting changes. Stored conflicts keep their timestamps.
func (d *Detector) Restore(resolver *types.Resolver, findings []types.Finding, conflicts []types.Conflict) *Index {
	ix := d.NewIndex(resolver)

	stored := make(map[string]types.Conflict, len(conflicts))
	for _, c := range conflicts {
		stored[c.ID] = c
	}
	for _, f := range findings {
		d.evaluate(f, ix)
	}
	for _, b := range ix.buckets {
		if b.conflict == nil {
			continue
		}
		if s, ok := stored[b.conflict.ID]; ok {
			b.conflict.DetectedAt = s.DetectedAt
			b.conflict.UpdatedAt = s.UpdatedAt
			if b.conflict.Resolution != nil && s.Resolution != nil && s.Resolution.FindingID == b.conflict.Resolution.FindingID {
				b.conflict.Resolution.ResolvedAt = s.Resolution.ResolvedAt
			}
		}
	}
	return ix
}
