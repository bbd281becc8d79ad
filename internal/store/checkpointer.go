package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"sleuth/internal/logging"
	"sleuth/internal/session"
)

// ErrCheckpointerClosed is returned by Enqueue after Close.
var ErrCheckpointerClosed = errors.New("checkpointer closed")

// Result reports one completed save.
type Result struct {
	SessionID string
	Status    session.Status
	Findings  int
	Err       error
	At        time.Time
}

// Checkpointer saves session snapshots off the caller's goroutine. Snapshots
// queued for the same session are coalesced to the newest one; distinct
// sessions are saved in the order they were first queued. After the first
// failure no further saves are attempted.
type Checkpointer struct {
	store   Store
	onSaved func(Result)
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]*session.Session
	order    []string
	inflight bool
	waiters  []chan struct{}
	err      error
	closed   bool

	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	failed chan struct{}
}

// CheckpointerOption configures a Checkpointer.
type CheckpointerOption func(*Checkpointer)

// WithSaveTimeout bounds each individual save.
func WithSaveTimeout(d time.Duration) CheckpointerOption {
	return func(c *Checkpointer) { c.timeout = d }
}

// WithOnSaved registers a callback run on the worker after every save attempt.
func WithOnSaved(fn func(Result)) CheckpointerOption {
	return func(c *Checkpointer) { c.onSaved = fn }
}

// NewCheckpointer starts the save worker.
func NewCheckpointer(st Store, opts ...CheckpointerOption) *Checkpointer {
	c := &Checkpointer{
		store:   st,
		timeout: 30 * time.Second,
		pending: make(map[string]*session.Session),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		failed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// Enqueue schedules a save of a snapshot of s. The session is cloned before
// Enqueue returns, so the caller may keep mutating it.
func (c *Checkpointer) Enqueue(s *session.Session) error {
	snap := s.Clone()

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	if c.closed {
		c.mu.Unlock()
		return ErrCheckpointerClosed
	}
	if _, queued := c.pending[snap.ID]; !queued {
		c.order = append(c.order, snap.ID)
	}
	c.pending[snap.ID] = snap
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Err returns the first persistence failure, if any.
func (c *Checkpointer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Failed is closed when the first save fails.
func (c *Checkpointer) Failed() <-chan struct{} {
	return c.failed
}

// Flush blocks until every snapshot queued before the call has been saved,
// or a save failed, or ctx ends.
func (c *Checkpointer) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.idleLocked() {
		err := c.err
		c.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding saves and stops the worker.
func (c *Checkpointer) Close(ctx context.Context) error {
	flushErr := c.Flush(ctx)

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.quit)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return flushErr
}

func (c *Checkpointer) idleLocked() bool {
	return c.err != nil || (len(c.order) == 0 && !c.inflight)
}

func (c *Checkpointer) releaseWaitersLocked() {
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
}

func (c *Checkpointer) next() (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil || len(c.order) == 0 {
		return nil, false
	}
	id := c.order[0]
	c.order = c.order[1:]
	snap := c.pending[id]
	delete(c.pending, id)
	c.inflight = true
	return snap, true
}

func (c *Checkpointer) run() {
	defer close(c.done)
	for {
		for {
			snap, ok := c.next()
			if !ok {
				break
			}
			c.save(snap)
		}

		c.mu.Lock()
		if c.idleLocked() {
			c.releaseWaitersLocked()
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.quit:
			c.mu.Lock()
			c.releaseWaitersLocked()
			c.mu.Unlock()
			return
		}
	}
}

func (c *Checkpointer) save(snap *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	err := c.store.Save(ctx, snap)
	cancel()

	c.mu.Lock()
	c.inflight = false
	if err != nil && c.err == nil {
		c.err = persistErr("save", snap.ID, err)
		err = c.err
		// Remaining snapshots are abandoned.
		c.order = nil
		clear(c.pending)
		close(c.failed)
	}
	c.mu.Unlock()

	if err != nil {
		logging.StoreError("Checkpoint of session %s failed: %v", snap.ID, err)
	} else {
		logging.StoreDebug("Checkpointed session %s", snap.ID)
	}
	if c.onSaved != nil {
		c.onSaved(Result{SessionID: snap.ID, Status: snap.Status, Findings: len(snap.Findings), Err: err, At: time.Now()})
	}
}
