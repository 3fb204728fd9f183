package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/model"
)

type fakeOracle struct {
	mu      sync.Mutex
	members map[string]map[string]bool // conversationID -> userID -> member
	err     error
	calls   int
}

func (f *fakeOracle) IsMember(_ context.Context, conversationID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.members[conversationID][userID], nil
}

func (f *fakeOracle) removeConversation(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, conversationID)
}

func newFixture(oracle *fakeOracle) (*bus.Bus, *Filter) {
	b := bus.New(0, zerolog.Nop())
	return b, NewFilter(b, oracle, zerolog.Nop())
}

func user(id string) *model.User { return &model.User{UserID: id, Username: id} }

func recvOne(t *testing.T, st *Stream) events.Event {
	t.Helper()
	select {
	case ev, ok := <-st.C():
		if !ok {
			t.Fatal("stream closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func expectNothing(t *testing.T, st *Stream) {
	t.Helper()
	select {
	case ev, ok := <-st.C():
		if ok {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemberReceivesNonMemberDoesNot(t *testing.T) {
	oracle := &fakeOracle{members: map[string]map[string]bool{
		"x": {"a": true, "b": true},
	}}
	b, f := newFixture(oracle)

	bStream := f.Open(context.Background(), user("b"), events.Topics()...)
	defer bStream.Close()
	cStream := f.Open(context.Background(), user("c"), events.Topics()...)
	defer cStream.Close()

	b.Publish(string(events.KindEntryAdded), events.Event{
		Kind:           events.KindEntryAdded,
		ConversationID: "x",
		Members:        []string{"a", "b"},
		Entry:          &model.Entry{EntryID: "e1", ConversationID: "x", Content: "hi"},
	})

	ev := recvOne(t, bStream)
	if ev.ConversationID != "x" || ev.Entry == nil || ev.Entry.Content != "hi" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	expectNothing(t, cStream)
}

func TestAnonymousStreamIsClosedImmediately(t *testing.T) {
	oracle := &fakeOracle{members: map[string]map[string]bool{}}
	_, f := newFixture(oracle)

	st := f.Open(context.Background(), nil, events.Topics()...)
	select {
	case _, ok := <-st.C():
		if ok {
			t.Fatal("anonymous stream must never yield events")
		}
	case <-time.After(time.Second):
		t.Fatal("anonymous stream must be closed, not blocking")
	}
	st.Close() // must be safe
}

func TestOrderPreservedWithinTopic(t *testing.T) {
	oracle := &fakeOracle{members: map[string]map[string]bool{
		"x": {"a": true},
	}}
	b, f := newFixture(oracle)

	st := f.Open(context.Background(), user("a"), string(events.KindEntryAdded))
	defer st.Close()

	for i := 0; i < 20; i++ {
		b.Publish(string(events.KindEntryAdded), events.Event{
			Kind:           events.KindEntryAdded,
			ConversationID: "x",
			Entry:          &model.Entry{EntryID: fmt.Sprintf("e%02d", i)},
		})
	}
	for i := 0; i < 20; i++ {
		ev := recvOne(t, st)
		if want := fmt.Sprintf("e%02d", i); ev.Entry.EntryID != want {
			t.Fatalf("out of order: got %s want %s", ev.Entry.EntryID, want)
		}
	}
}

func TestOracleErrorFailsClosed(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("storage down")}
	b, f := newFixture(oracle)

	st := f.Open(context.Background(), user("a"), string(events.KindEntryAdded))
	defer st.Close()

	b.Publish(string(events.KindEntryAdded), events.Event{
		Kind:           events.KindEntryAdded,
		ConversationID: "x",
	})
	expectNothing(t, st)
}

func TestRemovedConversationUsesSnapshotNotOracle(t *testing.T) {
	oracle := &fakeOracle{members: map[string]map[string]bool{
		"x": {"a": true, "b": true},
	}}
	b, f := newFixture(oracle)

	st := f.Open(context.Background(), user("b"), events.Topics()...)
	defer st.Close()
	outsider := f.Open(context.Background(), user("c"), events.Topics()...)
	defer outsider.Close()

	// Simulate the cascade delete completing before fan-out.
	oracle.removeConversation("x")
	snapshot := []string{"a", "b"}
	b.Publish(string(events.KindConversationRemoved), events.Event{
		Kind:           events.KindConversationRemoved,
		ConversationID: "x",
		Members:        snapshot,
	})

	ev := recvOne(t, st)
	if ev.Kind != events.KindConversationRemoved || ev.ConversationID != "x" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	expectNothing(t, outsider)
}

func TestNonMemberNeverSeesEventsAcrossConcurrentDelete(t *testing.T) {
	oracle := &fakeOracle{members: map[string]map[string]bool{
		"x": {"a": true},
	}}
	b, f := newFixture(oracle)

	outsider := f.Open(context.Background(), user("z"), events.Topics()...)
	defer outsider.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			b.Publish(string(events.KindEntryAdded), events.Event{
				Kind:           events.KindEntryAdded,
				ConversationID: "x",
			})
		}
	}()
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		oracle.removeConversation("x")
		b.Publish(string(events.KindConversationRemoved), events.Event{
			Kind:           events.KindConversationRemoved,
			ConversationID: "x",
			Members:        []string{"a"},
		})
	}()
	wg.Wait()

	expectNothing(t, outsider)
}

func TestCloseReleasesBusSubscriptions(t *testing.T) {
	oracle := &fakeOracle{members: map[string]map[string]bool{}}
	b, f := newFixture(oracle)

	st := f.Open(context.Background(), user("a"), events.Topics()...)
	// Subscriptions register synchronously in Open.
	if n := b.SubscriberCount(string(events.KindEntryAdded)); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	st.Close()

	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount(string(events.KindEntryAdded)) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("bus subscription leaked after Close")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The stream channel drains closed.
	select {
	case _, ok := <-st.C():
		if ok {
			// In-flight delivery may race Close; channel must close after.
			for range st.C() {
			}
		}
	case <-time.After(time.Second):
		t.Fatal("stream channel never closed")
	}
}

func TestContextCancellationClosesStream(t *testing.T) {
	oracle := &fakeOracle{members: map[string]map[string]bool{}}
	_, f := newFixture(oracle)

	ctx, cancel := context.WithCancel(context.Background())
	st := f.Open(ctx, user("a"), events.Topics()...)
	cancel()

	select {
	case _, ok := <-st.C():
		if ok {
			t.Fatal("expected closed stream after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after context cancellation")
	}
}
