package http

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/model"
)

func (a *testAPI) dialStream(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/api/stream"
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStreamDeliversEventsToMember(t *testing.T) {
	a := newTestAPI(t)
	_, adaTok := a.signUpAndIn(t, "ada")
	bobID, bobTok := a.signUpAndIn(t, "bob")

	conn := a.dialStream(t, bobTok)

	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	resp := a.do(t, http.MethodPost, "/api/conversations", adaTok, map[string]string{"recipientId": bobID})
	var conv model.Conversation
	decodeInto(t, resp, &conv)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Kind != events.KindConversationCreated || ev.ConversationID != conv.ConversationID {
		t.Fatalf("unexpected event: %+v", ev)
	}

	a.do(t, http.MethodPost, "/api/conversations/"+conv.ConversationID+"/entries", adaTok, map[string]string{"content": "hello"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read entry event: %v", err)
	}
	if ev.Kind != events.KindEntryAdded || ev.Entry == nil || ev.Entry.Content != "hello" {
		t.Fatalf("unexpected entry event: %+v", ev)
	}
}

func TestStreamClosesForAnonymousCaller(t *testing.T) {
	a := newTestAPI(t)

	conn := a.dialStream(t, "")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("anonymous stream must close without delivering messages")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("want policy violation close, got %v", err)
	}
}

func TestStreamExcludesNonMembers(t *testing.T) {
	a := newTestAPI(t)
	_, adaTok := a.signUpAndIn(t, "ada")
	bobID, _ := a.signUpAndIn(t, "bob")
	_, carolTok := a.signUpAndIn(t, "carol")

	conn := a.dialStream(t, carolTok)
	time.Sleep(50 * time.Millisecond)

	resp := a.do(t, http.MethodPost, "/api/conversations", adaTok, map[string]string{"recipientId": bobID})
	var conv model.Conversation
	decodeInto(t, resp, &conv)
	a.do(t, http.MethodPost, "/api/conversations/"+conv.ConversationID+"/entries", adaTok, map[string]string{"content": "private"})

	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err == nil {
		t.Fatalf("carol must not receive events for a conversation she is not in, got %+v", ev)
	}
}
