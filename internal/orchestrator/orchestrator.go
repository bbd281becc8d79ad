// Package orchestrator drives one research session: it schedules ready
// task nodes onto a bounded worker pool, folds every finding into the
// knowledge base, and checkpoints the session as state changes.
//
// All node-state and knowledge-base mutation happens on the Run loop.
// Workers only execute tasks and report back over a channel.
package orchestrator

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"sleuth/internal/confidence"
	"sleuth/internal/conflict"
	"sleuth/internal/events"
	"sleuth/internal/plan"
	"sleuth/internal/session"
	"sleuth/internal/types"
)

var (
	// ErrSessionBusy is returned when a session is already being driven.
	ErrSessionBusy = errors.New("session is already being driven")
	// ErrCancelled is returned by Run after Cancel. It is not a failure.
	ErrCancelled = errors.New("cancellation requested")
	// ErrSessionTimeout is returned by Run when the session deadline expires.
	ErrSessionTimeout = errors.New("session timeout exceeded")
	// ErrNotRunning is returned by Cancel and Modify when no session is running.
	ErrNotRunning = errors.New("no session running")
)

// CancelMode selects how running work is stopped.
type CancelMode int

const (
	// CancelGraceful gives running nodes CancelGrace to finish and leaves
	// the session Paused.
	CancelGraceful CancelMode = iota
	// CancelForced stops running nodes immediately and fails the session.
	CancelForced
)

func (m CancelMode) String() string {
	if m == CancelForced {
		return "forced"
	}
	return "graceful"
}

// Config holds scheduler settings.
type Config struct {
	Concurrency        int
	MaxAttempts        int
	MaxFailureFraction float64
	TaskTimeout        time.Duration
	SessionTimeout     time.Duration
	CancelGrace        time.Duration
	RetryBackoffBase   time.Duration
	RetryBackoffMax    time.Duration
}

// DefaultConfig returns the standard scheduler settings.
func DefaultConfig() Config {
	return Config{
		Concurrency:        5,
		MaxAttempts:        3,
		MaxFailureFraction: 0.5,
		TaskTimeout:        2 * time.Minute,
		SessionTimeout:     30 * time.Minute,
		CancelGrace:        10 * time.Second,
		RetryBackoffBase:   time.Second,
		RetryBackoffMax:    30 * time.Second,
	}
}

// Executor runs one task node.
type Executor interface {
	Execute(ctx context.Context, node *plan.TaskNode, query string) iter.Seq2[types.Finding, error]
}

// Checkpointer persists session snapshots without blocking the loop.
type Checkpointer interface {
	Enqueue(s *session.Session) error
	Flush(ctx context.Context) error
	Failed() <-chan struct{}
	Err() error
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Executor     Executor
	Detector     *conflict.Detector
	Scorer       *confidence.Scorer
	Checkpointer Checkpointer
	Events       events.Broadcaster
}

// Outcome summarizes a finished run. Failed nodes and open conflicts are
// always listed.
type Outcome struct {
	SessionID     string
	Status        session.Status
	Reason        string
	Nodes         map[plan.NodeState]int
	FailedNodes   []*plan.TaskNode
	OpenConflicts []types.Conflict
	Aggregate     *types.ConfidenceScore
	Findings      int
}

// Orchestrator drives one session at a time.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu      sync.RWMutex
	running bool
	sess    *session.Session
	index   *conflict.Index
	seen    map[string]bool

	cancelReq chan CancelMode
	modifyReq chan modifyRequest
	loopDone  chan struct{}
	outbox    []events.Event
}

type modifyRequest struct {
	cs    plan.ChangeSet
	reply chan modifyResult
}

type modifyResult struct {
	plan *plan.WorkflowPlan
	err  error
}

// Sessions driven anywhere in the process.
var active sync.Map

// New creates an Orchestrator. Zero config fields take defaults.
func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxFailureFraction <= 0 {
		cfg.MaxFailureFraction = def.MaxFailureFraction
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = def.RetryBackoffBase
	}
	if cfg.RetryBackoffMax < cfg.RetryBackoffBase {
		cfg.RetryBackoffMax = cfg.RetryBackoffBase
	}
	if deps.Detector == nil {
		deps.Detector = conflict.New(conflict.DefaultConfig())
	}
	if deps.Scorer == nil {
		deps.Scorer = confidence.New(confidence.DefaultConfig())
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	return &Orchestrator{cfg: cfg, deps: deps, now: time.Now}
}

// WithClock replaces the timestamp source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Snapshot returns a copy of the session being driven, or nil.
func (o *Orchestrator) Snapshot() *session.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.sess == nil {
		return nil
	}
	return o.sess.Clone()
}

// Cancel asks the running session to stop. A forced cancel may follow a
// graceful one to cut the grace period short.
func (o *Orchestrator) Cancel(mode CancelMode) error {
	o.mu.RLock()
	running, req := o.running, o.cancelReq
	o.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	select {
	case req <- mode:
	default:
	}
	return nil
}

// Modify amends the running plan. The change set is applied on the
// scheduling loop, so it never races a dispatch decision.
func (o *Orchestrator) Modify(ctx context.Context, cs plan.ChangeSet) (*plan.WorkflowPlan, error) {
	o.mu.RLock()
	running, req, done := o.running, o.modifyReq, o.loopDone
	o.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}

	r := modifyRequest{cs: cs, reply: make(chan modifyResult, 1)}
	select {
	case req <- r:
	case <-done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-r.reply:
		return res.plan, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) emit(typ events.Type, nodeID string, payload any) {
	o.outbox = append(o.outbox, events.Event{
		SessionID: o.sess.ID,
		Type:      typ,
		NodeID:    nodeID,
		Time:      o.now(),
		Payload:   payload,
	})
}

// publish delivers queued events. It must be called without mu held so
// broadcasters may call Snapshot.
func (o *Orchestrator) publish() {
	o.mu.Lock()
	out := o.outbox
	o.outbox = nil
	o.mu.Unlock()
	for _, ev := range out {
		o.deps.Events.Publish(ev)
	}
}
