package events

import (
	"sync"
	"time"

	"sleuth/internal/logging"
)

// Bus fans events out to subscribers. Every subscriber has its own
// unbounded queue drained by a pump goroutine, so Publish never blocks and
// never drops.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[*subscriber]struct{}
	closed bool
	now    func() time.Time
}

type subscriber struct {
	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	out     chan Event
	stopped bool
	once    sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{}), now: time.Now}
}

// Publish stamps ev with the next sequence number and queues it for every
// subscriber. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	for s := range b.subs {
		s.push(ev)
	}
}

// Subscribe returns a channel receiving every event published after the
// call, in sequence order. The channel is closed by unsubscribe or Close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		out:  make(chan Event),
	}
	go s.pump()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.stop()
		return s.out, func() {}
	}
	b.subs[s] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()
	logging.EventsDebug("Subscriber added (%d active)", n)

	var once sync.Once
	return s.out, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			s.stop()
		})
	}
}

// Close ends every subscription. Events already queued are still
// delivered before the channel closes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = map[*subscriber]struct{}{}
	b.mu.Unlock()

	for _, s := range subs {
		s.drainAndStop()
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events to out until quit closes. Once stopped is set
// it returns as soon as the queue is empty.
func (s *subscriber) pump() {
	defer close(s.done)
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			draining := s.stopped
			s.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}

// stop abandons queued events and closes out.
func (s *subscriber) stop() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

// drainAndStop lets the pump empty its queue, then closes out. A consumer
// that stops reading must still call unsubscribe.
func (s *subscriber) drainAndStop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
