package orchestrator

import (
	"context"
	"errors"
	"time"

	"sleuth/internal/events"
	"sleuth/internal/executor"
	"sleuth/internal/logging"
	"sleuth/internal/plan"
	"sleuth/internal/provider"
)

// classify maps an executor failure to a node error kind.
func classify(err error) (plan.ErrorKind, bool) {
	var te *executor.TimeoutError
	if pe, ok := provider.AsError(err); ok {
		return plan.ErrorKind(pe.Kind), pe.Retryable()
	}
	switch {
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return plan.ErrorTimeout, false
	case errors.Is(err, executor.ErrCancelled), errors.Is(err, context.Canceled):
		return plan.ErrorCancelled, false
	}
	return plan.ErrorInternal, false
}

// backoff returns the wait before the retry that follows the given attempt:
// base, 2*base, 4*base and so on, capped at RetryBackoffMax.
func (o *Orchestrator) backoff(attempts int) time.Duration {
	shift := max(attempts-1, 0)
	if shift > 16 {
		shift = 16
	}
	d := o.cfg.RetryBackoffBase << shift
	if d > o.cfg.RetryBackoffMax || d <= 0 {
		d = o.cfg.RetryBackoffMax
	}
	return d
}

// failLocked records a node failure and decides whether it will be retried.
// A node the loop stopped itself takes the stop's kind instead of whatever
// the executor reported. Only rate limits and outages are retried while the
// session runs; a node interrupted by a pausing stop reruns on resume.
func (o *Orchestrator) failLocked(rs *runState, id string, w *worker, err error) {
	now := o.now()
	kind, retryable := classify(err)
	interrupted := false
	if w != nil && w.kill == "" && rs.ctx.Err() != nil {
		// The session deadline or parent fired before the loop saw it.
		w.kill = plan.ErrorTimeout
	}
	if w != nil && w.kill != "" {
		kind = w.kill
		retryable = kind == plan.ErrorTimeout
		interrupted = retryable
	}

	t, terr := o.sess.Plan.Transition(id, plan.StateFailed, now)
	if terr != nil {
		logging.OrchestratorError("Failed to record failure of node %s: %v", id, terr)
		return
	}
	t.LastError = &plan.NodeError{Kind: kind, Message: err.Error(), Retryable: retryable, At: now}
	t.NextRetryAt = nil

	if retryable && t.Attempts < o.cfg.MaxAttempts {
		switch {
		case interrupted, rs.stop.resumable():
			// Retried as soon as the session is resumed.
			t.NextRetryAt = &now
		case rs.stop == stopNone:
			at := now.Add(o.backoff(t.Attempts))
			t.NextRetryAt = &at
			logging.OrchestratorWarn("Node %s failed (%s), retry %d/%d at %s", id, kind, t.Attempts+1, o.cfg.MaxAttempts, at.Format(time.RFC3339))
		}
	}
	if t.NextRetryAt == nil {
		logging.OrchestratorError("Node %s failed after %d attempts: %v", id, t.Attempts, err)
		o.skipDependentsLocked(id)
	}

	o.sess.UpdatedAt = now
	o.checkpointLocked(rs)
	o.emit(events.NodeStateChanged, id, events.NodePayload{
		From:     string(plan.StateRunning),
		To:       string(plan.StateFailed),
		Attempts: t.Attempts,
		Reason:   string(kind),
	})
}

// skipDependentsLocked skips every node transitively downstream of id that
// has not started yet.
func (o *Orchestrator) skipDependentsLocked(id string) bool {
	changed := false
	for _, d := range o.sess.Plan.Dependents(id) {
		if d.State == plan.StatePending || d.State == plan.StateReady {
			o.skipLocked(d, plan.SkipUpstreamFailed)
			changed = true
		}
	}
	return changed
}

func (o *Orchestrator) skipLocked(t *plan.TaskNode, reason string) {
	from := t.State
	if _, err := o.sess.Plan.Transition(t.ID, plan.StateSkipped, o.now()); err != nil {
		logging.OrchestratorError("Failed to skip node %s: %v", t.ID, err)
		return
	}
	t.SkipReason = reason
	logging.OrchestratorDebug("Skipped node %s (%s)", t.ID, reason)
	o.emit(events.NodeStateChanged, t.ID, events.NodePayload{From: string(from), To: string(plan.StateSkipped), Reason: reason})
}
