package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/subscription"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// StreamHandler upgrades GET /api/stream to a websocket carrying the
// caller's authorized event stream.
type StreamHandler struct {
	filter   *subscription.Filter
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewStreamHandler(filter *subscription.Filter, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		filter: filter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Credential is cookie- or header-borne; origin policy is the
			// proxy's concern in this deployment.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Stream GET /api/stream
//
// An anonymous caller gets a successfully-upgraded connection that closes
// immediately: an empty, permanently-closed stream rather than an error.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFrom(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer func() { _ = conn.Close() }()

	// Clear the server's request deadlines; the connection is long-lived and
	// write deadlines are set per message below.
	_ = conn.SetReadDeadline(time.Time{})

	if principal == nil {
		deadline := time.Now().Add(writeTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
			deadline)
		return
	}

	st := h.filter.Open(r.Context(), principal, events.Topics()...)
	defer st.Close()

	// The read loop exists to notice the peer going away; clients send no
	// application data.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				st.Close()
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-st.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug().Err(err).Str("user_id", principal.UserID).Msg("stream write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
