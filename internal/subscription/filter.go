// Package subscription composes the event bus with per-event membership
// checks so a subscriber only ever sees events for conversations it belongs
// to, evaluated fresh for every event.
package subscription

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/model"
)

// MembershipOracle answers whether a user belongs to a conversation. It is
// queried once per event per subscriber; implementations must tolerate a
// missing conversation by returning (false, nil).
type MembershipOracle interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// Filter opens authorized streams over the bus.
type Filter struct {
	bus    *bus.Bus
	oracle MembershipOracle
	log    zerolog.Logger
}

func NewFilter(b *bus.Bus, oracle MembershipOracle, log zerolog.Logger) *Filter {
	return &Filter{bus: b, oracle: oracle, log: log}
}

// Open returns a stream of events on the given topics that the principal is
// authorized to see. Unauthorized events are dropped silently; an oracle
// failure counts as unauthorized (fail closed). Per-topic delivery order is
// preserved for this subscriber.
//
// A nil principal yields an empty, already-closed stream: anonymous
// subscribers never receive events.
func (f *Filter) Open(ctx context.Context, principal *model.User, topics ...string) *Stream {
	if principal == nil {
		out := make(chan events.Event)
		close(out)
		return &Stream{out: out, cancel: func() {}}
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan events.Event)
	st := &Stream{out: out, cancel: cancel}

	subs := make([]*bus.Subscription, 0, len(topics))
	for _, topic := range topics {
		subs = append(subs, f.bus.Subscribe(topic))
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go f.forward(ctx, sub, principal, out, &wg)
	}
	go func() {
		<-ctx.Done()
		for _, sub := range subs {
			sub.Close()
		}
	}()
	go func() {
		wg.Wait()
		close(out)
	}()
	return st
}

// forward pumps one bus subscription through the membership predicate.
// A single goroutine per subscription keeps post-filter order identical to
// bus order.
func (f *Filter) forward(ctx context.Context, sub *bus.Subscription, principal *model.User, out chan<- events.Event, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if !f.authorized(ctx, principal, ev) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// authorized evaluates the per-event predicate. Conversation removal is
// checked against the member snapshot in the payload: the membership rows
// are already deleted, so a live lookup would deny everyone.
func (f *Filter) authorized(ctx context.Context, principal *model.User, ev events.Event) bool {
	if ev.Kind == events.KindConversationRemoved {
		for _, m := range ev.Members {
			if m == principal.UserID {
				return true
			}
		}
		return false
	}

	ok, err := f.oracle.IsMember(ctx, ev.ConversationID, principal.UserID)
	if err != nil {
		// Fail closed: an unanswerable predicate is a denial.
		f.log.Error().Err(err).
			Str("conversation_id", ev.ConversationID).
			Str("user_id", principal.UserID).
			Str("kind", string(ev.Kind)).
			Msg("membership check failed, dropping event")
		return false
	}
	return ok
}

// Stream is one subscriber's authorized event sequence.
type Stream struct {
	out       chan events.Event
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// C returns the delivery channel. It is closed when the stream ends.
func (s *Stream) C() <-chan events.Event { return s.out }

// Close releases the underlying bus subscriptions and stops pending
// predicate evaluations. Idempotent; safe during in-flight delivery.
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
}
