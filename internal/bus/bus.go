// Package bus implements a process-local, topic-keyed event bus:
// single-writer/many-reader delivery with per-topic FIFO ordering and a
// bounded queue per topic. Payloads are built once and dispatched to a
// snapshot of subscribers without holding a lock, so a slow handler on
// one topic never stalls publishes on another.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// TopicEvents is the topic carrying every live-channel envelope
// (message.new, stream.*, job.update). The Session Registry's broadcast
// subscriber drains it; keeping all client-bound events on one topic is
// what gives a single session a strict FIFO view of any one job's
// events.
const TopicEvents = "events"

// defaultQueueDepth bounds in-flight events per topic before the
// drop-oldest-non-terminal backpressure policy kicks in.
const defaultQueueDepth = 256

// Terminator lets a payload mark itself as terminal so the bus never
// drops it on overflow.
type Terminator interface {
	Terminal() bool
}

// Handler is a subscriber callback invoked serially, in publish order,
// for every event on its topic. A handler's error is logged and
// swallowed — one bad subscriber must not block the others.
type Handler func(ctx context.Context, payload any) error

// Bus is a topic-keyed, process-local publish/subscribe hub.
type Bus struct {
	mu         sync.Mutex
	topics     map[string]*topic
	queueDepth int
}

// New constructs a Bus with the default per-topic queue depth.
func New() *Bus {
	return &Bus{topics: make(map[string]*topic), queueDepth: defaultQueueDepth}
}

// NewWithQueueDepth constructs a Bus with a caller-chosen per-topic queue
// depth, primarily for tests that want to exercise the overflow policy
// without enqueuing hundreds of events.
func NewWithQueueDepth(depth int) *Bus {
	if depth < 1 {
		depth = defaultQueueDepth
	}
	return &Bus{topics: make(map[string]*topic), queueDepth: depth}
}

// topic owns one FIFO queue and its current subscriber set. A single
// worker goroutine drains the queue and invokes subscribers serially;
// this is what gives per-topic ordering even when Publish is called
// concurrently from many goroutines.
type topic struct {
	mu          sync.Mutex
	subscribers map[int]Handler
	nextSubID   int
	queue       []queuedEvent
	notify      chan struct{}
	depth       int
}

type queuedEvent struct {
	payload  any
	terminal bool
}

func newTopic(depth int) *topic {
	t := &topic{
		subscribers: make(map[int]Handler),
		notify:      make(chan struct{}, 1),
		depth:       depth,
	}
	go t.run()
	return t
}

// Subscribe registers handler on topic and returns an unsubscribe func.
func (b *Bus) Subscribe(topicName string, handler Handler) func() {
	b.mu.Lock()
	t, ok := b.topics[topicName]
	if !ok {
		t = newTopic(b.queueDepth)
		b.topics[topicName] = t
	}
	b.mu.Unlock()

	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = handler
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subscribers, id)
		t.mu.Unlock()
	}
}

// Publish enqueues payload for delivery to every current subscriber of
// topicName. If the topic has no subscribers yet, the event is dropped:
// there is nothing to deliver to, and the bus carries no durability
// guarantee across a restart to replay it later.
func (b *Bus) Publish(topicName string, payload any) {
	b.mu.Lock()
	t, ok := b.topics[topicName]
	if !ok {
		t = newTopic(b.queueDepth)
		b.topics[topicName] = t
	}
	b.mu.Unlock()

	terminal := false
	if term, ok := payload.(Terminator); ok {
		terminal = term.Terminal()
	}

	t.enqueue(queuedEvent{payload: payload, terminal: terminal})
}

// enqueue appends ev to the topic's queue, applying the drop-oldest-
// non-terminal backpressure policy when full.
func (t *topic) enqueue(ev queuedEvent) {
	t.mu.Lock()
	if len(t.queue) >= t.depth {
		dropped := false
		for i, q := range t.queue {
			if !q.terminal {
				t.queue = append(t.queue[:i], t.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped && !ev.terminal {
			// Every queued event is terminal; the incoming non-terminal
			// event has nowhere to go without violating the
			// never-drop-terminal guarantee, so it is the one dropped.
			t.mu.Unlock()
			slog.Warn("bus: dropping event, topic queue saturated with terminal events")
			return
		}
	}
	t.queue = append(t.queue, ev)
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// run is the topic's single worker goroutine: it drains the queue FIFO
// and invokes every current subscriber serially per event, guaranteeing
// per-topic ordering regardless of how many goroutines call Publish.
func (t *topic) run() {
	ctx := context.Background()
	for range t.notify {
		for {
			t.mu.Lock()
			if len(t.queue) == 0 {
				t.mu.Unlock()
				break
			}
			ev := t.queue[0]
			t.queue = t.queue[1:]
			handlers := make([]Handler, 0, len(t.subscribers))
			for _, h := range t.subscribers {
				handlers = append(handlers, h)
			}
			t.mu.Unlock()

			for _, h := range handlers {
				func() {
					defer func() {
						if r := recover(); r != nil {
							slog.Error("bus: handler panicked", "panic", r)
						}
					}()
					if err := h(ctx, ev.payload); err != nil {
						slog.Error("bus: handler returned error", "error", err)
					}
				}()
			}
		}
	}
}
