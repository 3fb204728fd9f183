package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/events"
)

// Subscribe opens the caller's live event stream. Every event is applied to
// the replica before being forwarded on the returned channel, so reads from
// the replica after receiving an event observe its effect.
//
// The connection is re-dialed with exponential backoff until ctx is
// cancelled; events published while disconnected are lost, matching the
// server's no-replay contract. The channel closes when ctx is done.
func (c *Client) Subscribe(ctx context.Context) (<-chan events.Event, error) {
	if c.Token() == "" {
		return nil, ErrUnauthorized
	}

	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		exp := backoff.NewExponentialBackOff()
		exp.MaxInterval = c.reconnectMax
		exp.MaxElapsedTime = 0 // retry until cancelled

		for {
			connected, err := c.runStream(ctx, out)
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				// The server refused the credential; reconnecting with the
				// same token cannot succeed.
				return
			}
			if connected {
				exp.Reset()
			}
			select {
			case <-time.After(exp.NextBackOff()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// runStream holds one websocket connection open, pumping events into out.
// It returns when the connection drops or ctx is cancelled, and reports
// whether the dial ever succeeded so the caller can reset its backoff.
func (c *Client) runStream(ctx context.Context, out chan<- events.Event) (bool, error) {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/stream"
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+c.Token())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close() }()

	// Unblock ReadJSON when the caller cancels.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return true, err
		}
		c.replica.Apply(ev)
		select {
		case out <- ev:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
