package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"sleuth/internal/events"
	"sleuth/internal/logging"
	"sleuth/internal/plan"
	"sleuth/internal/session"
	"sleuth/internal/types"
)

type msgKind int

const (
	msgFinding msgKind = iota
	msgDone
	msgFailed
)

// message is what a worker reports to the loop. A worker's last message is
// always msgDone or msgFailed.
type message struct {
	kind    msgKind
	nodeID  string
	finding types.Finding
	err     error
}

type worker struct {
	cancel context.CancelFunc
	kill   plan.ErrorKind // set when the loop stopped the node
}

type stopReason int

const (
	stopNone stopReason = iota
	stopGraceful
	stopForced
	stopTimeout
	stopParent
	stopPersistence
)

// resumable reports whether a stop leaves the session Paused.
func (r stopReason) resumable() bool {
	return r == stopGraceful || r == stopTimeout || r == stopParent
}

type runState struct {
	ctx        context.Context
	query      string
	msgs       chan message
	workers    map[string]*worker
	g          errgroup.Group
	stop       stopReason
	grace      <-chan time.Time
	persistErr error
	dirty      bool
}

// maxBatch bounds how many worker messages one loop iteration handles
// before taking a snapshot.
const maxBatch = 64

// Run drives s until every node is finished, the run is cancelled, or
// persistence fails. Run owns s until it returns. A session that was
// interrupted is resumed from its node states alone.
func (o *Orchestrator) Run(ctx context.Context, s *session.Session) (*Outcome, error) {
	if s == nil || s.Plan == nil {
		return nil, fmt.Errorf("session has no plan")
	}
	timer := logging.StartTimer(logging.CategoryOrchestrator, "Run")
	defer timer.StopWithInfo()

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrSessionBusy
	}
	if _, loaded := active.LoadOrStore(s.ID, o); loaded {
		o.mu.Unlock()
		logging.OrchestratorWarn("Session %s is already driven by another orchestrator", s.ID)
		return nil, ErrSessionBusy
	}
	o.running = true
	o.sess = s
	o.cancelReq = make(chan CancelMode, 2)
	o.modifyReq = make(chan modifyRequest)
	o.loopDone = make(chan struct{})
	o.outbox = nil

	reopened := Prepare(s, o.now())
	for _, t := range reopened {
		if t.State == plan.StateFailed {
			o.emit(events.NodeStateChanged, t.ID, events.NodePayload{
				From:     string(plan.StateRunning),
				To:       string(plan.StateFailed),
				Attempts: t.Attempts,
				Reason:   string(plan.ErrorInterrupted),
			})
		}
	}
	o.index = o.deps.Detector.Restore(types.NewResolver(s.Analysis.Entities), s.Findings, s.Conflicts)
	o.seen = make(map[string]bool, len(s.Findings))
	for _, f := range s.Findings {
		o.seen[f.ID] = true
	}
	s.Status = session.StatusActive
	s.FailureReason = ""
	s.UpdatedAt = o.now()
	o.emit(events.PlanCreated, "", planPayload(s.Plan))
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		close(o.loopDone)
		o.mu.Unlock()
		active.Delete(s.ID)
	}()

	logging.Orchestrator("=== Running session %s: %q ===", s.ID, s.Query)
	logging.Orchestrator("Plan %s v%d: %d tasks, %d reopened", s.Plan.ID, s.Plan.Version, len(s.Plan.Tasks()), len(reopened))

	runCtx := ctx
	if o.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.SessionTimeout)
		defer cancel()
	}
	rs := &runState{
		ctx:     runCtx,
		query:   s.Plan.Query,
		msgs:    make(chan message),
		workers: make(map[string]*worker),
	}

	o.mu.Lock()
	o.checkpointLocked(rs)
	o.mu.Unlock()

	return o.loop(ctx, rs)
}

// Prepare puts a persisted session back on the ready path and returns the
// nodes it changed. Running nodes lost their executor and fail as
// interrupted with an immediate retry; nodes skipped by a cancellation
// revert to Pending; nodes awaiting a retry keep waiting.
func Prepare(s *session.Session, now time.Time) []*plan.TaskNode {
	if s.Plan == nil {
		return nil
	}
	var changed []*plan.TaskNode
	for _, t := range s.Plan.Tasks() {
		if s.Plan.Reopen(t.ID, now) {
			changed = append(changed, t)
		}
	}
	return changed
}

func (o *Orchestrator) loop(parent context.Context, rs *runState) (*Outcome, error) {
	cp := o.checkpointer()
	iteration := 0
	for {
		iteration++
		o.mu.Lock()
		o.checkDeadlineLocked(parent, rs)
		o.stepLocked(rs)
		o.flushDirtyLocked(rs)
		finished := o.finishedLocked(rs)
		wait := o.nextRetryLocked(rs)
		o.mu.Unlock()
		o.publish()
		if finished {
			break
		}
		logging.OrchestratorDebug("Loop iteration %d: %d running", iteration, len(rs.workers))

		var retry *time.Timer
		var retryC <-chan time.Time
		if wait >= 0 {
			retry = time.NewTimer(wait)
			retryC = retry.C
		}
		var ctxDone <-chan struct{}
		if rs.stop == stopNone {
			ctxDone = rs.ctx.Done()
		}
		var persistFailed <-chan struct{}
		if rs.persistErr == nil {
			persistFailed = cp.Failed()
		}

		select {
		case m := <-rs.msgs:
			o.handle(rs, m)
			o.drain(rs)
		case mode := <-o.cancelReq:
			o.cancel(rs, mode)
		case <-rs.grace:
			o.mu.Lock()
			rs.grace = nil
			logging.OrchestratorWarn("Cancel grace expired, stopping %d running nodes", len(rs.workers))
			o.killAllLocked(rs, plan.ErrorTimeout)
			o.mu.Unlock()
		case <-retryC:
		case <-ctxDone:
			o.mu.Lock()
			o.checkDeadlineLocked(parent, rs)
			o.mu.Unlock()
		case <-persistFailed:
			o.mu.Lock()
			o.persistFailedLocked(rs, cp.Err())
			o.mu.Unlock()
		case req := <-o.modifyReq:
			o.modify(rs, req)
		}
		if retry != nil {
			retry.Stop()
		}
	}

	_ = rs.g.Wait()
	return o.finish(parent, rs)
}

// checkDeadlineLocked stops the run once the caller's context or the
// session deadline is done. Running nodes are killed as timed out so a
// resume retries them.
func (o *Orchestrator) checkDeadlineLocked(parent context.Context, rs *runState) {
	if rs.stop != stopNone || rs.ctx.Err() == nil {
		return
	}
	reason := stopTimeout
	if parent.Err() != nil {
		reason = stopParent
	}
	logging.OrchestratorWarn("Session %s deadline reached (%v)", o.sess.ID, rs.ctx.Err())
	o.stopLocked(rs, reason)
	o.killAllLocked(rs, plan.ErrorTimeout)
}

// stepLocked skips nodes cut off by terminal failures, promotes nodes whose
// dependencies are satisfied or whose retry is due, and dispatches.
func (o *Orchestrator) stepLocked(rs *runState) {
	if rs.stop != stopNone {
		return
	}
	p := o.sess.Plan
	now := o.now()
	changed := false

	for _, t := range p.Tasks() {
		if t.State == plan.StateFailed && t.NextRetryAt == nil {
			if o.skipDependentsLocked(t.ID) {
				changed = true
			}
		}
	}
	for _, t := range p.Tasks() {
		from := t.State
		switch {
		case from == plan.StatePending && p.DepsSatisfied(t):
		case from == plan.StateFailed && t.NextRetryAt != nil && !now.Before(*t.NextRetryAt):
			logging.OrchestratorDebug("Retrying node %s (attempt %d)", t.ID, t.Attempts+1)
		default:
			continue
		}
		if _, err := p.Transition(t.ID, plan.StateReady, now); err != nil {
			logging.OrchestratorError("Failed to promote node %s: %v", t.ID, err)
			continue
		}
		o.emit(events.NodeStateChanged, t.ID, events.NodePayload{From: string(from), To: string(plan.StateReady), Attempts: t.Attempts})
		changed = true
	}
	if o.dispatchLocked(rs) || changed {
		o.checkpointLocked(rs)
	}
}

// dispatchLocked starts Ready nodes, highest priority first and then in
// plan order, until the pool is full.
func (o *Orchestrator) dispatchLocked(rs *runState) bool {
	if len(rs.workers) >= o.cfg.Concurrency {
		return false
	}
	p := o.sess.Plan
	order := p.Order()
	var ready []*plan.TaskNode
	for _, t := range p.Tasks() {
		if t.State == plan.StateReady {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return order[ready[i].ID] < order[ready[j].ID]
	})

	started := false
	for _, t := range ready {
		if len(rs.workers) >= o.cfg.Concurrency {
			break
		}
		if _, err := p.Transition(t.ID, plan.StateRunning, o.now()); err != nil {
			logging.OrchestratorError("Failed to dispatch node %s: %v", t.ID, err)
			continue
		}
		t.Attempts++
		o.startLocked(rs, t)
		o.emit(events.NodeStateChanged, t.ID, events.NodePayload{From: string(plan.StateReady), To: string(plan.StateRunning), Attempts: t.Attempts})
		started = true
	}
	return started
}

func (o *Orchestrator) startLocked(rs *runState, t *plan.TaskNode) {
	var nctx context.Context
	var cancel context.CancelFunc
	if o.cfg.TaskTimeout > 0 {
		nctx, cancel = context.WithTimeout(rs.ctx, o.cfg.TaskTimeout)
	} else {
		nctx, cancel = context.WithCancel(rs.ctx)
	}
	rs.workers[t.ID] = &worker{cancel: cancel}

	node := t.Clone()
	logging.Orchestrator("Dispatching %s (priority %d, attempt %d)", node.ID, node.Priority, node.Attempts)
	rs.g.Go(func() error {
		o.work(nctx, cancel, node, rs.query, rs.msgs)
		return nil
	})
}

// work runs on a pool goroutine. It never touches orchestrator state.
func (o *Orchestrator) work(ctx context.Context, cancel context.CancelFunc, node *plan.TaskNode, query string, out chan<- message) {
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			out <- message{kind: msgFailed, nodeID: node.ID, err: fmt.Errorf("executor panic: %v", r)}
		}
	}()
	for f, err := range o.deps.Executor.Execute(ctx, node, query) {
		if err != nil {
			out <- message{kind: msgFailed, nodeID: node.ID, err: err}
			return
		}
		out <- message{kind: msgFinding, nodeID: node.ID, finding: f}
	}
	out <- message{kind: msgDone, nodeID: node.ID}
}

func (o *Orchestrator) handle(rs *runState, m message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch m.kind {
	case msgFinding:
		o.ingestLocked(rs, m.finding)
	case msgDone:
		delete(rs.workers, m.nodeID)
		t, err := o.sess.Plan.Transition(m.nodeID, plan.StateCompleted, o.now())
		if err != nil {
			logging.OrchestratorError("Failed to complete node %s: %v", m.nodeID, err)
			return
		}
		logging.Orchestrator("Node %s completed", t.ID)
		o.sess.UpdatedAt = o.now()
		o.checkpointLocked(rs)
		o.emit(events.NodeStateChanged, t.ID, events.NodePayload{From: string(plan.StateRunning), To: string(plan.StateCompleted), Attempts: t.Attempts})
	case msgFailed:
		w := rs.workers[m.nodeID]
		delete(rs.workers, m.nodeID)
		o.failLocked(rs, m.nodeID, w, m.err)
	}
}

// drain handles messages that are already waiting, so a burst of findings
// shares one snapshot.
func (o *Orchestrator) drain(rs *runState) {
	for n := 1; n < maxBatch; n++ {
		select {
		case m := <-rs.msgs:
			o.handle(rs, m)
		default:
			return
		}
	}
}

func (o *Orchestrator) finishedLocked(rs *runState) bool {
	if len(rs.workers) > 0 {
		return false
	}
	if rs.stop != stopNone {
		return true
	}
	for _, t := range o.sess.Plan.Tasks() {
		switch {
		case t.State == plan.StateReady:
			return false
		case t.State == plan.StateFailed && t.NextRetryAt != nil:
			return false
		}
	}
	return true
}

// nextRetryLocked returns the wait until the earliest due retry, or -1.
func (o *Orchestrator) nextRetryLocked(rs *runState) time.Duration {
	if rs.stop != stopNone {
		return -1
	}
	var earliest *time.Time
	for _, t := range o.sess.Plan.Tasks() {
		if t.State == plan.StateFailed && t.NextRetryAt != nil {
			if earliest == nil || t.NextRetryAt.Before(*earliest) {
				earliest = t.NextRetryAt
			}
		}
	}
	if earliest == nil {
		return -1
	}
	return max(earliest.Sub(o.now()), 0)
}

func (o *Orchestrator) modify(rs *runState, req modifyRequest) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if rs.stop != stopNone {
		req.reply <- modifyResult{err: ErrCancelled}
		return
	}
	np, err := plan.Modify(o.sess.Plan, req.cs)
	if err != nil {
		logging.OrchestratorWarn("Rejected plan change: %v", err)
		req.reply <- modifyResult{err: err}
		return
	}
	o.sess.Plan = np
	o.sess.UpdatedAt = o.now()
	o.checkpointLocked(rs)
	o.emit(events.PlanCreated, "", planPayload(np))
	req.reply <- modifyResult{plan: np.Clone()}
}

func planPayload(p *plan.WorkflowPlan) events.PlanPayload {
	return events.PlanPayload{PlanID: p.ID, Version: p.Version, Tasks: len(p.Tasks())}
}
