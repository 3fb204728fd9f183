// Package client is the Go SDK for the Parley API. It wraps the REST
// surface, keeps an optimistic local replica, and maintains the websocket
// event stream that reconciles it.
package client

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/parleyhq/parley/internal/model"
)

type Client struct {
	baseURL string
	http    *resty.Client
	replica *Replica

	mu    sync.RWMutex
	token string
	self  *model.User

	reconnectMax time.Duration
}

// New constructs a Client against baseURL. Additional options can be
// provided via functional arguments.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		panic("baseURL cannot be empty")
	}

	c := &Client{
		baseURL: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(30 * time.Second),
		replica:      NewReplica(),
		reconnectMax: 30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			panic(err)
		}
	}
	return c
}

// Replica exposes the client's local mirror for reads.
func (c *Client) Replica() *Replica { return c.replica }

// Self returns the signed-in user, or nil before SignIn.
func (c *Client) Self() *model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.http.SetAuthToken(token)
}

// Token returns the bearer token minted by SignIn, or "" when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SignUp registers a new account. It does not sign the client in.
func (c *Client) SignUp(ctx context.Context, username, password string) (*model.User, error) {
	var user model.User
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&user).
		Post("/api/auth/signup")
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignIn authenticates and stores the minted token for subsequent calls.
func (c *Client) SignIn(ctx context.Context, username, password string) (*model.User, error) {
	var out struct {
		User  model.User `json:"user"`
		Token string     `json:"token"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&out).
		Post("/api/auth/signin")
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	c.setToken(out.Token)
	c.mu.Lock()
	c.self = &out.User
	c.mu.Unlock()
	return &out.User, nil
}

// SignOut forgets the token. Tokens are stateless server-side; discarding
// the local copy is the whole operation.
func (c *Client) SignOut(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Post("/api/auth/signout")
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	c.setToken("")
	c.mu.Lock()
	c.self = nil
	c.mu.Unlock()
	return nil
}

// ListUsers returns every other account.
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var out struct {
		Users []model.User `json:"users"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/users")
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// ListConversations fetches the caller's conversations and loads them into
// the replica, most recently active first.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/conversations")
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	// Load in reverse so the most recent ends up at the front.
	for i := len(out.Conversations) - 1; i >= 0; i-- {
		c.replica.Load(out.Conversations[i], c.replica.Entries(out.Conversations[i].ConversationID))
	}
	return out.Conversations, nil
}

// CreateConversation opens (or finds) the direct conversation with
// recipientID. The conversation is staged in the replica before the request
// and reconciled with the server's answer.
func (c *Client) CreateConversation(ctx context.Context, recipientID string) (*model.Conversation, error) {
	members := []string{recipientID}
	if self := c.Self(); self != nil {
		members = append(members, self.UserID)
	}
	staged := c.replica.StageConversation(members)

	var conv model.Conversation
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"recipientId": recipientID}).
		SetResult(&conv).
		Post("/api/conversations")
	if err != nil {
		c.replica.DiscardConversation(staged)
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		c.replica.DiscardConversation(staged)
		return nil, err
	}
	c.replica.DiscardConversation(staged)
	c.replica.Load(conv, c.replica.Entries(conv.ConversationID))
	return &conv, nil
}

// GetConversation fetches one conversation and its entries into the replica.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var conv model.Conversation
	resp, err := c.http.R().SetContext(ctx).SetResult(&conv).Get("/api/conversations/" + conversationID)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	entries, err := c.ListEntries(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	c.replica.Load(conv, entries)
	return &conv, nil
}

// ListEntries fetches a conversation's entries in ascending creation order.
// limit <= 0 fetches everything.
func (c *Client) ListEntries(ctx context.Context, conversationID string, limit int) ([]model.Entry, error) {
	var out struct {
		Entries []model.Entry `json:"entries"`
	}
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/api/conversations/" + conversationID + "/entries")
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// SendEntry posts content to a conversation. The entry appears in the
// replica immediately under a placeholder ID and is confirmed or rolled
// back when the server answers.
func (c *Client) SendEntry(ctx context.Context, conversationID, content string) (*model.Entry, error) {
	senderID := ""
	if self := c.Self(); self != nil {
		senderID = self.UserID
	}
	staged, stageErr := c.replica.StageEntry(conversationID, senderID, content)

	var entry model.Entry
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": content}).
		SetResult(&entry).
		Post("/api/conversations/" + conversationID + "/entries")
	if err == nil {
		err = checkStatus(resp)
	}
	if err != nil {
		if stageErr == nil {
			c.replica.DiscardEntry(conversationID, staged)
		}
		return nil, err
	}
	if stageErr == nil {
		c.replica.ConfirmEntry(staged, entry)
	}
	return &entry, nil
}

// RemoveConversation deletes a conversation for all members. The local copy
// is dropped once the server confirms; the broadcast removal arriving later
// is a no-op.
func (c *Client) RemoveConversation(ctx context.Context, conversationID string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/api/conversations/" + conversationID)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	c.replica.DiscardConversation(conversationID)
	return nil
}

// IsAuthError reports whether err means the caller needs to sign in again.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
