package orchestrator

import (
	"context"
	"time"

	"sleuth/internal/logging"
	"sleuth/internal/plan"
	"sleuth/internal/session"
)

func (o *Orchestrator) cancel(rs *runState, mode CancelMode) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case mode == CancelForced && (rs.stop == stopNone || rs.stop == stopGraceful):
		logging.OrchestratorWarn("Forced cancel of session %s: stopping %d running nodes", o.sess.ID, len(rs.workers))
		o.stopLocked(rs, stopForced)
		rs.grace = nil
		o.killAllLocked(rs, plan.ErrorCancelled)
	case mode == CancelGraceful && rs.stop == stopNone:
		logging.Orchestrator("Graceful cancel of session %s: waiting up to %v for %d running nodes", o.sess.ID, o.cfg.CancelGrace, len(rs.workers))
		o.stopLocked(rs, stopGraceful)
		if len(rs.workers) == 0 {
			return
		}
		if o.cfg.CancelGrace <= 0 {
			o.killAllLocked(rs, plan.ErrorTimeout)
			return
		}
		rs.grace = time.After(o.cfg.CancelGrace)
	default:
		logging.OrchestratorDebug("Ignoring %s cancel: already stopping", mode)
	}
}

// stopLocked stops scheduling. Nodes that never started are skipped as
// cancelled so a resume reverts them to Pending.
func (o *Orchestrator) stopLocked(rs *runState, reason stopReason) {
	rs.stop = reason
	for _, t := range o.sess.Plan.Tasks() {
		if t.State == plan.StatePending || t.State == plan.StateReady {
			o.skipLocked(t, plan.SkipCancelled)
		}
	}
	o.checkpointLocked(rs)
}

// killAllLocked cancels every running node. Each still reports back through
// the loop; its failure is recorded with kind.
func (o *Orchestrator) killAllLocked(rs *runState, kind plan.ErrorKind) {
	for id, w := range rs.workers {
		if w.kill == "" {
			w.kill = kind
		}
		logging.OrchestratorDebug("Stopping node %s (%s)", id, kind)
		w.cancel()
	}
}

func (o *Orchestrator) persistFailedLocked(rs *runState, err error) {
	if rs.persistErr != nil {
		return
	}
	if err == nil {
		err = context.Canceled
	}
	logging.OrchestratorError("Persistence failed for session %s, aborting: %v", o.sess.ID, err)
	rs.persistErr = err
	rs.stop = stopPersistence
	rs.grace = nil
	o.killAllLocked(rs, plan.ErrorCancelled)
}

// checkpointLocked marks the session as needing a snapshot. The loop takes
// at most one snapshot per iteration in flushDirtyLocked.
func (o *Orchestrator) checkpointLocked(rs *runState) {
	rs.dirty = true
}

// flushDirtyLocked queues a snapshot if anything changed since the last
// one. Saving happens off the loop.
func (o *Orchestrator) flushDirtyLocked(rs *runState) {
	if !rs.dirty || rs.persistErr != nil {
		return
	}
	rs.dirty = false
	if err := o.checkpointer().Enqueue(o.sess); err != nil {
		o.persistFailedLocked(rs, err)
	}
}

func (o *Orchestrator) checkpointer() Checkpointer {
	if o.deps.Checkpointer == nil {
		return nopCheckpointer{}
	}
	return o.deps.Checkpointer
}

type nopCheckpointer struct{}

func (nopCheckpointer) Enqueue(*session.Session) error { return nil }
func (nopCheckpointer) Flush(context.Context) error    { return nil }
func (nopCheckpointer) Failed() <-chan struct{}        { return nil }
func (nopCheckpointer) Err() error                     { return nil }
