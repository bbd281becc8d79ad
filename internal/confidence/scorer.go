// Package confidence scores how much the evidence for a (subject,
// attribute) key can be trusted.
//
// For a key, agreeing findings from one source host count once; a host that
// contradicts itself contributes to both sides. The anchor
// claim is the one with the most agreeing credibility; findings agreeing
// with it form the consensus C, the rest the dissent D. With E and E_d the
// credibility mass of C and D and n = |C|:
//
//	base    = wCred*(1 - exp(-E/tau)) + wCorr*(1 - 1/(1+ln n))
//	share   = E / (E + E_d)
//	penalty = wConflict * max(cred in D) * 2^(-age/halfLife)   (open conflicts only)
//	value   = base * share * (1 - penalty)
//
// age runs from the newest dissenting finding to the scoring time. Relative
// to a fixed anchor, corroboration raises E and n without touching the
// penalty, and dissent raises E_d and never lowers the penalty.
package confidence

import (
	"math"
	"sort"
	"time"

	"sleuth/internal/claim"
	"sleuth/internal/logging"
	"sleuth/internal/types"
)

// Factor names, in recorded order.
const (
	FactorCorroborationMass  = "corroboration_mass"
	FactorIndependentSources = "independent_sources"
	FactorConsensusShare     = "consensus_share"
	FactorConflictPenalty    = "conflict_penalty"
	FactorMeanCredibility    = "mean_credibility"
)

// AggregateAttribute labels session-level scores.
const AggregateAttribute = "aggregate"

// Config holds the scoring weights.
type Config struct {
	CredibilityWeight   float64
	CorroborationWeight float64
	Tau                 float64
	ConflictWeight      float64
	RecencyHalfLife     time.Duration
	NumericTolerance    float64
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		CredibilityWeight:   0.6,
		CorroborationWeight: 0.4,
		Tau:                 1.5,
		ConflictWeight:      0.5,
		RecencyHalfLife:     72 * time.Hour,
		NumericTolerance:    0.05,
	}
}

// Scorer computes confidence scores. It holds no state beyond its
// configuration and clock.
type Scorer struct {
	cfg Config
	now func() time.Time
}

// New creates a Scorer.
func New(cfg Config) *Scorer {
	if cfg.Tau <= 0 {
		cfg.Tau = 1.5
	}
	return &Scorer{cfg: cfg, now: time.Now}
}

// WithClock replaces the time source used for recency and ComputedAt.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

type scored struct {
	f types.Finding
	v claim.Value
}

// Score computes a fresh score for one key. Findings are not modified.
func (s *Scorer) Score(subject, attribute string, findings []types.Finding, c *types.Conflict) types.ConfidenceScore {
	now := s.now()
	out := types.ConfidenceScore{Subject: subject, Attribute: attribute, ComputedAt: now}

	evidence := s.dedupe(findings, attribute)
	if len(evidence) == 0 {
		out.Factors = s.factors(0, 0, 0, 0, 0)
		return out
	}

	anchor := s.anchor(evidence)
	var consensus, dissent []scored
	for _, e := range evidence {
		if claim.Diverges(anchor.v, e.v, s.cfg.NumericTolerance) {
			dissent = append(dissent, e)
		} else {
			consensus = append(consensus, e)
		}
	}

	var mass, dissentMass, strongest float64
	var newestDissent time.Time
	for _, e := range consensus {
		mass += e.f.SourceCredibility
	}
	for _, e := range dissent {
		dissentMass += e.f.SourceCredibility
		strongest = max(strongest, e.f.SourceCredibility)
		if t := observedAt(e.f); t.After(newestDissent) {
			newestDissent = t
		}
	}

	n := float64(len(consensus))
	massTerm := 1 - math.Exp(-mass/s.cfg.Tau)
	sourcesTerm := 1 - 1/(1+math.Log(n))
	base := s.cfg.CredibilityWeight*massTerm + s.cfg.CorroborationWeight*sourcesTerm

	share := 1.0
	if mass+dissentMass > 0 {
		share = mass / (mass + dissentMass)
	}

	penalty := 0.0
	if c.IsOpen() && len(dissent) > 0 {
		penalty = s.cfg.ConflictWeight * strongest * s.recency(now, newestDissent)
		penalty = clamp(penalty)
	}

	out.Value = clamp(base * share * (1 - penalty))
	out.Findings = len(evidence)
	out.Factors = s.factors(massTerm, sourcesTerm, share, penalty, mass/n)

	logging.ConflictDebug("Score %s/%s = %.3f (C=%d E=%.2f D=%d Ed=%.2f P=%.3f)",
		subject, attribute, out.Value, len(consensus), mass, len(dissent), dissentMass, penalty)
	return out
}

func (s *Scorer) factors(massTerm, sourcesTerm, share, penalty, mean float64) []types.Factor {
	return []types.Factor{
		{Name: FactorCorroborationMass, Value: massTerm, Weight: s.cfg.CredibilityWeight},
		{Name: FactorIndependentSources, Value: sourcesTerm, Weight: s.cfg.CorroborationWeight},
		{Name: FactorConsensusShare, Value: share},
		{Name: FactorConflictPenalty, Value: penalty, Weight: s.cfg.ConflictWeight},
		{Name: FactorMeanCredibility, Value: mean},
	}
}

func (s *Scorer) recency(now, newest time.Time) float64 {
	if s.cfg.RecencyHalfLife <= 0 || newest.IsZero() {
		return 1
	}
	age := now.Sub(newest)
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(s.cfg.RecencyHalfLife))
}

// anchor returns the claim with the largest agreeing mass; ties go to the
// lowest finding id.
func (s *Scorer) anchor(evidence []scored) scored {
	best, bestMass := evidence[0], -1.0
	for _, a := range evidence {
		var m float64
		for _, b := range evidence {
			if !claim.Diverges(a.v, b.v, s.cfg.NumericTolerance) {
				m += b.f.SourceCredibility
			}
		}
		if m > bestMass+1e-12 || (math.Abs(m-bestMass) <= 1e-12 && a.f.ID < best.f.ID) {
			best, bestMass = a, m
		}
	}
	return best
}

// dedupe collapses agreeing findings from the same source host into the
// most credible of them, ties by id. Findings from one host that disagree
// are all kept so a contradiction never hides behind host de-duplication.
func (s *Scorer) dedupe(findings []types.Finding, attribute string) []scored {
	ranked := make([]scored, 0, len(findings))
	for _, f := range findings {
		ranked = append(ranked, scored{f: f, v: claim.ParseFor(attribute, f.Claim)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].f.SourceCredibility != ranked[j].f.SourceCredibility {
			return ranked[i].f.SourceCredibility > ranked[j].f.SourceCredibility
		}
		return ranked[i].f.ID < ranked[j].f.ID
	})

	byHost := make(map[string][]scored, len(ranked))
	out := make([]scored, 0, len(ranked))
next:
	for _, e := range ranked {
		h := e.f.SourceHost()
		for _, k := range byHost[h] {
			if !claim.Diverges(k.v, e.v, s.cfg.NumericTolerance) {
				continue next
			}
		}
		byHost[h] = append(byHost[h], e)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].f.ID < out[j].f.ID })
	return out
}

func observedAt(f types.Finding) time.Time {
	if f.PublishedDate != nil {
		return *f.PublishedDate
	}
	return f.Timestamp
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Aggregate is the findings-weighted mean of per-key scores whose subject
// is a significant entity. When no key is significant every key counts.
func (s *Scorer) Aggregate(scores []types.ConfidenceScore, entities []types.Entity) types.ConfidenceScore {
	resolver := types.NewResolver(entities)
	significant := make(map[string]bool)
	for _, e := range entities {
		if e.IsSignificant() {
			significant[resolver.Canonical(e.Name, e.Type)] = true
		}
	}

	pick := func(onlySignificant bool) (sum float64, weight, keys int) {
		for _, sc := range scores {
			if onlySignificant && !significant[resolver.Canonical(sc.Subject, "")] {
				continue
			}
			sum += sc.Value * float64(sc.Findings)
			weight += sc.Findings
			keys++
		}
		return
	}

	sum, weight, keys := pick(true)
	if weight == 0 {
		sum, weight, keys = pick(false)
	}

	out := types.ConfidenceScore{Attribute: AggregateAttribute, ComputedAt: s.now(), Findings: weight}
	if weight > 0 {
		out.Value = clamp(sum / float64(weight))
	}
	out.Factors = []types.Factor{{Name: "keys", Value: float64(keys)}}
	return out
}
