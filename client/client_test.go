package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apihttp "github.com/parleyhq/parley/internal/api/http"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/internal/store/memory"
	"github.com/parleyhq/parley/internal/subscription"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := memory.New()
	b := bus.New(0, zerolog.Nop())
	tokens := auth.NewTokenAuthenticator("sdk-test-secret", "parley-test", time.Hour)

	router := apihttp.NewRouter(apihttp.Deps{
		Users:         services.NewUserService(st, tokens),
		Chat:          services.NewChatService(st, b, zerolog.Nop()),
		Filter:        subscription.NewFilter(b, st.Conversations(), zerolog.Nop()),
		Resolver:      auth.NewResolver(tokens, st.Users()),
		TokenValidity: time.Hour,
		Log:           zerolog.Nop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewPanicsOnEmptyBaseURL(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New("")
}

func TestSignUpSignInAndListUsers(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	ada := New(srv.URL)
	if _, err := ada.SignUp(ctx, "ada", "correcthorse"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	bob := New(srv.URL)
	if _, err := bob.SignUp(ctx, "bob", "correcthorse"); err != nil {
		t.Fatalf("signup bob: %v", err)
	}

	self, err := ada.SignIn(ctx, "ada", "correcthorse")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if self.Username != "ada" || ada.Self() == nil {
		t.Fatalf("unexpected self: %+v", self)
	}

	users, err := ada.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Username != "bob" {
		t.Fatalf("listing must exclude self: %+v", users)
	}
}

func TestSignInFailureIsUnauthorized(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	c := New(srv.URL)
	if _, err := c.SignUp(ctx, "ada", "correcthorse"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	_, err := c.SignIn(ctx, "ada", "wrong")
	if !errors.Is(err, ErrUnauthorized) || !IsAuthError(err) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestAnonymousWriteIsUnauthorized(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL)
	_, err := c.ListUsers(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func signedIn(t *testing.T, srv *httptest.Server, username string) *Client {
	t.Helper()
	ctx := context.Background()
	c := New(srv.URL)
	if _, err := c.SignUp(ctx, username, "correcthorse"); err != nil {
		t.Fatalf("signup %s: %v", username, err)
	}
	if _, err := c.SignIn(ctx, username, "correcthorse"); err != nil {
		t.Fatalf("signin %s: %v", username, err)
	}
	return c
}

func TestSendEntryConfirmsOptimisticWrite(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	ada := signedIn(t, srv, "ada")
	bob := signedIn(t, srv, "bob")

	conv, err := ada.CreateConversation(ctx, bob.Self().UserID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	entry, err := ada.SendEntry(ctx, conv.ConversationID, "hello")
	if err != nil {
		t.Fatalf("send entry: %v", err)
	}
	got := ada.Replica().Entries(conv.ConversationID)
	if len(got) != 1 || got[0].EntryID != entry.EntryID {
		t.Fatalf("replica must hold the confirmed entry: %+v", got)
	}
}

func TestSendEntryRollsBackOnForbidden(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	ada := signedIn(t, srv, "ada")
	bob := signedIn(t, srv, "bob")
	carol := signedIn(t, srv, "carol")

	conv, err := ada.CreateConversation(ctx, bob.Self().UserID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	// Carol materializes the conversation locally but is not a member.
	carol.Replica().Load(*conv, nil)

	_, err = carol.SendEntry(ctx, conv.ConversationID, "let me in")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	if got := carol.Replica().Entries(conv.ConversationID); len(got) != 0 {
		t.Fatalf("optimistic entry must be rolled back: %+v", got)
	}
}

func TestSubscribeReconcilesReplica(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ada := signedIn(t, srv, "ada")
	bob := signedIn(t, srv, "bob")

	stream, err := bob.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	next := func(want events.Kind) {
		t.Helper()
		select {
		case ev, ok := <-stream:
			if !ok {
				t.Fatal("stream closed early")
			}
			if ev.Kind != want {
				t.Fatalf("want %s, got %s", want, ev.Kind)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	conv, err := ada.CreateConversation(ctx, bob.Self().UserID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	next(events.KindConversationCreated)

	if _, err := ada.SendEntry(ctx, conv.ConversationID, "hi bob"); err != nil {
		t.Fatalf("send entry: %v", err)
	}
	next(events.KindEntryAdded)

	convs := bob.Replica().Conversations()
	if len(convs) != 1 || convs[0].ConversationID != conv.ConversationID {
		t.Fatalf("replica missing broadcast conversation: %+v", convs)
	}
	entries := bob.Replica().Entries(conv.ConversationID)
	if len(entries) != 1 || entries[0].Content != "hi bob" {
		t.Fatalf("replica missing broadcast entry: %+v", entries)
	}
}

func TestSubscribeRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL)
	if _, err := c.Subscribe(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}
