package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

// ErrControlQueueFull is returned when control commands arrive faster than
// the scheduler polls them.
var ErrControlQueueFull = errors.New("control queue full")

const controlQueueSize = 16

// Streamer is the per-run bidirectional channel: the scheduler emits events
// outbound to any number of subscribers, consumers send control commands
// inbound. Emitting never blocks; each subscriber owns a bounded queue
// where the oldest progress events are dropped on overflow. Node-level
// events are never dropped.
type Streamer struct {
	mu         sync.Mutex
	subs       map[int]*Subscription
	nextID     int
	bufferSize int
	closed     bool

	dropped atomic.Bool
	control chan sdk.ControlCommand
}

// New creates a streamer with the given per-subscriber buffer size.
func New(bufferSize int) *Streamer {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Streamer{
		subs:       make(map[int]*Subscription),
		bufferSize: bufferSize,
		control:    make(chan sdk.ControlCommand, controlQueueSize),
	}
}

// Emit fans an event out to all subscribers without blocking.
func (s *Streamer) Emit(event sdk.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, sub := range s.subs {
		if sub.push(event) {
			s.dropped.Store(true)
		}
	}
}

// Subscribe attaches a new consumer. Subscribing to a finished run yields
// an immediately closed event channel; callers read the final state from
// the registry snapshot instead.
func (s *Streamer) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := newSubscription(s, s.bufferSize)
	if s.closed {
		sub.Close()
		return sub
	}
	s.nextID++
	sub.id = s.nextID
	s.subs[sub.id] = sub
	return sub
}

// Unsubscribe detaches a consumer and closes its channel.
func (s *Streamer) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	sub.Close()
}

// Close shuts the stream down after the terminal event. Subscriber queues
// are drained before their channels close.
func (s *Streamer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[int]*Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// SendControl queues an inbound control command for the scheduler.
func (s *Streamer) SendControl(cmd sdk.ControlCommand) error {
	select {
	case s.control <- cmd:
		return nil
	default:
		return ErrControlQueueFull
	}
}

// Control is the scheduler-side view of inbound commands.
func (s *Streamer) Control() <-chan sdk.ControlCommand {
	return s.control
}

// TakeDropped reports and clears the overflow flag. The scheduler emits a
// synthetic progress event after the current band when it reads true, so
// slow consumers re-sync their counters.
func (s *Streamer) TakeDropped() bool {
	return s.dropped.Swap(false)
}

// SubscriberCount returns the number of attached consumers.
func (s *Streamer) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Subscription is one consumer's ordered event queue. A pump goroutine
// moves events from the bounded queue to the outbound channel so a slow
// consumer never blocks the scheduler.
type Subscription struct {
	id       int
	streamer *Streamer
	limit    int

	mu     sync.Mutex
	queue  []sdk.Event
	closed bool

	notify chan struct{}
	done   chan struct{}
	out    chan sdk.Event
}

func newSubscription(s *Streamer, limit int) *Subscription {
	sub := &Subscription{
		streamer: s,
		limit:    limit,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan sdk.Event),
	}
	go sub.pump()
	return sub
}

// Events is the consumer-facing channel. It closes when the run finishes
// or the subscription is detached, after all queued events are delivered.
func (sub *Subscription) Events() <-chan sdk.Event {
	return sub.out
}

// Close stops delivery once the remaining queue drains. Idempotent.
func (sub *Subscription) Close() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.mu.Unlock()
	close(sub.done)
}

// push appends an event, dropping the oldest progress event when the queue
// is full. Returns true when something was dropped.
func (sub *Subscription) push(event sdk.Event) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return false
	}

	dropped := false
	if len(sub.queue) >= sub.limit {
		for i, queued := range sub.queue {
			if queued.Type == sdk.EventProgress {
				sub.queue = append(sub.queue[:i], sub.queue[i+1:]...)
				dropped = true
				break
			}
		}
		// Queue full of node-level events only: grow, never drop them.
	}
	sub.queue = append(sub.queue, event)

	select {
	case sub.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (sub *Subscription) pump() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.notify:
				continue
			case <-sub.done:
				sub.drain()
				return
			}
		}
		event := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- event:
		case <-sub.done:
			// Keep the popped event at the head so the drain preserves order.
			sub.mu.Lock()
			sub.queue = append([]sdk.Event{event}, sub.queue...)
			sub.mu.Unlock()
			sub.drain()
			return
		}
	}
}

// drain gives the consumer a bounded window to take the queued tail after
// close, then gives up so the pump goroutine cannot leak.
func (sub *Subscription) drain() {
	sub.mu.Lock()
	remaining := sub.queue
	sub.queue = nil
	sub.mu.Unlock()

	deadline := time.After(time.Second)
	for _, event := range remaining {
		select {
		case sub.out <- event:
		case <-deadline:
			return
		}
	}
}
