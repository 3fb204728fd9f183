package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/internal/subscription"
)

// Deps carries everything the router wires together.
type Deps struct {
	Users         *services.UserService
	Chat          *services.ChatService
	Filter        *subscription.Filter
	Resolver      *auth.Resolver
	Store         HealthPinger
	TokenValidity time.Duration
	SecureCookies bool
	Log           zerolog.Logger
}

// NewRouter builds the full HTTP surface.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()

	authHandler := NewAuthHandler(d.Users, d.TokenValidity, d.SecureCookies)
	chatHandler := NewChatHandler(d.Chat, d.Users)
	streamHandler := NewStreamHandler(d.Filter, d.Log)
	healthHandler := NewHealthHandler(d.Store)

	r.HandleFunc("/v0/health", healthHandler.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(WithPrincipal(d.Resolver, d.Log))

	api.HandleFunc("/auth/signup", authHandler.SignUp).Methods(http.MethodPost)
	api.HandleFunc("/auth/signin", authHandler.SignIn).Methods(http.MethodPost)
	api.HandleFunc("/auth/signout", authHandler.SignOut).Methods(http.MethodPost)

	api.HandleFunc("/users", chatHandler.ListUsers).Methods(http.MethodGet)

	api.HandleFunc("/conversations", chatHandler.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", chatHandler.CreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversationId}", chatHandler.GetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversationId}", chatHandler.DeleteConversation).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{conversationId}/entries", chatHandler.ListEntries).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversationId}/entries", chatHandler.AddEntry).Methods(http.MethodPost)

	api.HandleFunc("/stream", streamHandler.Stream).Methods(http.MethodGet)

	return r
}
