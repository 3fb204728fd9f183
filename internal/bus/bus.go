// Package bus implements the in-process publish/subscribe primitive used to
// fan committed writes out to open subscriptions.
//
// Delivery is best-effort: each subscription owns a bounded queue drained by
// its own pump goroutine, so a slow consumer never blocks Publish or any
// other subscriber. On overflow the oldest queued event is dropped and the
// drop is counted.
package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/events"
)

// DefaultQueueSize bounds a subscription's pending-delivery queue.
const DefaultQueueSize = 64

// Bus is an in-process topic-based event bus.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]map[*Subscription]struct{}
	queueCap int
	log      zerolog.Logger
}

// New creates a bus whose subscriptions buffer up to queueCap events each.
// queueCap <= 0 selects DefaultQueueSize.
func New(queueCap int, log zerolog.Logger) *Bus {
	if queueCap <= 0 {
		queueCap = DefaultQueueSize
	}
	return &Bus{
		subs:     make(map[string]map[*Subscription]struct{}),
		queueCap: queueCap,
		log:      log,
	}
}

// Publish delivers ev to every subscription currently open on topic.
// It never blocks on subscribers and reports nothing about delivery.
func (b *Bus) Publish(topic string, ev events.Event) {
	b.mu.RLock()
	set := b.subs[topic]
	targets := make([]*Subscription, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	publishedTotal.WithLabelValues(topic).Inc()
	for _, s := range targets {
		if dropped := s.enqueue(ev); dropped {
			droppedTotal.WithLabelValues(topic, "overflow").Inc()
			b.log.Warn().Str("topic", topic).Msg("subscriber queue overflow, oldest event dropped")
		}
	}
}

// Subscribe opens a subscription on topic. Events published after this call
// are delivered in publish order on the returned subscription's channel.
// There is no replay: a late subscriber misses earlier events.
func (b *Bus) Subscribe(topic string) *Subscription {
	s := &Subscription{
		bus:    b,
		topic:  topic,
		out:    make(chan events.Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		cap:    b.queueCap,
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	if set, ok := b.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.topic)
		}
	}
	b.mu.Unlock()
}

// SubscriberCount reports the number of open subscriptions on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Subscription is one consumer's live, ordered view of a topic.
type Subscription struct {
	bus   *Bus
	topic string
	out   chan events.Event

	mu    sync.Mutex
	queue []events.Event
	cap   int

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// C returns the delivery channel. It is closed after Close.
func (s *Subscription) C() <-chan events.Event { return s.out }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Close stops delivery and releases the subscription. Idempotent and safe to
// call concurrently with an in-flight delivery.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}

// enqueue appends ev to the pending queue, evicting the oldest event when
// full. Reports whether an eviction happened.
func (s *Subscription) enqueue(ev events.Event) (dropped bool) {
	s.mu.Lock()
	if len(s.queue) >= s.cap {
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// pump drains the pending queue into the out channel, preserving publish
// order for this subscriber.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
	}
}
