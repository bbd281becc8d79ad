package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sleuth/internal/events"
	"sleuth/internal/logging"
	"sleuth/internal/plan"
	"sleuth/internal/session"
	"sleuth/internal/store"
	"sleuth/internal/types"
)

const flushTimeout = 30 * time.Second

// finish settles the session status, waits for the final checkpoint and
// emits the terminal events.
func (o *Orchestrator) finish(parent context.Context, rs *runState) (*Outcome, error) {
	o.mu.Lock()
	s := o.sess
	now := o.now()

	for _, t := range s.Plan.Tasks() {
		if rs.stop == stopNone && t.State == plan.StatePending {
			logging.OrchestratorWarn("Node %s never became ready", t.ID)
			o.skipLocked(t, plan.SkipUpstreamFailed)
		}
	}

	var runErr error
	switch rs.stop {
	case stopPersistence:
		s.Status = session.StatusFailed
		s.FailureReason = "persistence failure: " + rs.persistErr.Error()
		runErr = fmt.Errorf("failed to persist session %s: %w", s.ID, rs.persistErr)
	case stopForced:
		s.Status = session.StatusFailed
		s.FailureReason = "cancelled"
		runErr = ErrCancelled
	case stopGraceful:
		s.Status = session.StatusPaused
		runErr = ErrCancelled
	case stopTimeout:
		s.Status = session.StatusPaused
		s.FailureReason = "session timeout"
		runErr = ErrSessionTimeout
	case stopParent:
		s.Status = session.StatusPaused
		runErr = parent.Err()
	default:
		failed, total := terminalFailures(s.Plan)
		if total > 0 && float64(failed)/float64(total) > o.cfg.MaxFailureFraction {
			s.Status = session.StatusFailed
			s.FailureReason = fmt.Sprintf("%d of %d nodes failed", failed, total)
		} else {
			s.Status = session.StatusCompleted
		}
	}
	agg := o.deps.Scorer.Aggregate(s.Scores, s.Analysis.Entities)
	s.Aggregate = &agg
	s.UpdatedAt = now
	o.checkpointLocked(rs)
	o.flushDirtyLocked(rs)
	persistErr := rs.persistErr
	o.mu.Unlock()

	if persistErr == nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(parent), flushTimeout)
		err := o.checkpointer().Flush(fctx)
		cancel()
		o.mu.Lock()
		if err != nil {
			logging.OrchestratorError("Final checkpoint of session %s failed: %v", s.ID, err)
			s.Status = session.StatusFailed
			s.FailureReason = "persistence failure: " + err.Error()
			runErr = fmt.Errorf("failed to persist session %s: %w", s.ID, err)
		}
		o.mu.Unlock()
	}

	o.mu.Lock()
	switch s.Status {
	case session.StatusCompleted:
		o.emit(events.SessionCompleted, "", o.sessionPayloadLocked())
		logging.Orchestrator("=== Session %s completed: %d findings, confidence %.2f ===", s.ID, len(s.Findings), agg.Value)
	case session.StatusFailed:
		o.emit(events.SessionFailed, "", o.sessionPayloadLocked())
		logging.OrchestratorError("Session %s failed: %s", s.ID, s.FailureReason)
	default:
		logging.Orchestrator("Session %s paused with %d findings", s.ID, len(s.Findings))
	}
	out := o.outcomeLocked()
	o.mu.Unlock()
	o.publish()

	if runErr != nil && !errors.Is(runErr, ErrCancelled) {
		logging.OrchestratorDebug("Run of %s ended: %v", s.ID, runErr)
	}
	return out, runErr
}

// terminalFailures counts failed nodes that will not be retried.
func terminalFailures(p *plan.WorkflowPlan) (failed, total int) {
	for _, t := range p.Tasks() {
		total++
		if t.State == plan.StateFailed && t.NextRetryAt == nil {
			failed++
		}
	}
	return failed, total
}

func (o *Orchestrator) sessionPayloadLocked() events.SessionPayload {
	s := o.sess
	p := events.SessionPayload{Status: string(s.Status), Reason: s.FailureReason, Findings: len(s.Findings)}
	if s.Aggregate != nil {
		p.Confidence = s.Aggregate.Value
	}
	return p
}

func (o *Orchestrator) outcomeLocked() *Outcome {
	s := o.sess
	out := &Outcome{
		SessionID:     s.ID,
		Status:        s.Status,
		Reason:        s.FailureReason,
		Nodes:         s.Plan.Counts(),
		OpenConflicts: s.OpenConflicts(),
		Findings:      len(s.Findings),
	}
	for _, t := range s.FailedNodes() {
		out.FailedNodes = append(out.FailedNodes, t.Clone())
	}
	if s.Aggregate != nil {
		agg := *s.Aggregate
		agg.Factors = append([]types.Factor(nil), agg.Factors...)
		out.Aggregate = &agg
	}
	return out
}

// CheckpointEvents returns a save callback for store.WithOnSaved that
// publishes SessionCheckpointed to b after every successful save. Failed
// saves publish nothing.
func CheckpointEvents(b events.Broadcaster) func(store.Result) {
	return func(r store.Result) {
		if r.Err != nil || b == nil {
			return
		}
		b.Publish(events.Event{
			SessionID: r.SessionID,
			Type:      events.SessionCheckpointed,
			Time:      r.At,
			Payload:   events.SessionPayload{Status: string(r.Status), Findings: r.Findings},
		})
	}
}
