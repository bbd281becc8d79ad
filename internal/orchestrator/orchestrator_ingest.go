package orchestrator

import (
	"slices"

	"sleuth/internal/events"
	"sleuth/internal/logging"
	"sleuth/internal/types"
)

// ingestLocked folds one finding into the knowledge base: append, conflict
// check, rescore of the finding's key, aggregate, checkpoint.
func (o *Orchestrator) ingestLocked(rs *runState, f types.Finding) {
	if err := f.Validate(); err != nil {
		logging.OrchestratorWarn("Dropping invalid finding from %s: %v", f.ProducingNodeID, err)
		return
	}
	if o.seen[f.ID] {
		logging.OrchestratorDebug("Ignoring duplicate finding %s", f.ID)
		return
	}
	o.seen[f.ID] = true

	s := o.sess
	s.Findings = append(s.Findings, f)

	ch := o.deps.Detector.Check(f, o.index)
	if c := ch.Conflict; c != nil {
		s.PutConflict(*c)
		payload := conflictPayload(c, ch.Reopened)
		if ch.New || ch.Reopened {
			o.emit(events.ConflictDetected, f.ProducingNodeID, payload)
		}
		if ch.Resolved {
			o.emit(events.ConflictResolved, f.ProducingNodeID, payload)
		}
	}

	score := o.deps.Scorer.Score(ch.Key.Subject, ch.Key.Attribute, o.index.Findings(ch.Key), o.index.Conflict(ch.Key))
	s.PutScore(score)
	agg := o.deps.Scorer.Aggregate(s.Scores, s.Analysis.Entities)
	s.Aggregate = &agg
	s.UpdatedAt = o.now()

	o.checkpointLocked(rs)
	o.emit(events.FindingAdded, f.ProducingNodeID, events.FindingPayload{
		FindingID:  f.ID,
		Subject:    ch.Key.Subject,
		Attribute:  ch.Key.Attribute,
		Claim:      f.Claim,
		SourceURL:  f.SourceURL,
		Confidence: score.Value,
	})
}

func conflictPayload(c *types.Conflict, reopened bool) events.ConflictPayload {
	p := events.ConflictPayload{
		ConflictID: c.ID,
		Subject:    c.Subject,
		Attribute:  c.Attribute,
		Severity:   string(c.Severity),
		Members:    slices.Clone(c.MemberFindingIDs),
		Reopened:   reopened,
	}
	if c.Resolution != nil {
		p.ResolvedBy = c.Resolution.FindingID
	}
	return p
}
