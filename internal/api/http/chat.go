package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/parleyhq/parley/internal/api/respond"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/services"
)

// ChatHandler provides HTTP transport for conversation and entry operations.
// Every operation requires an authenticated principal.
type ChatHandler struct {
	chat  *services.ChatService
	users *services.UserService
}

func NewChatHandler(chat *services.ChatService, users *services.UserService) *ChatHandler {
	return &ChatHandler{chat: chat, users: users}
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) *model.User {
	principal := PrincipalFrom(r.Context())
	if principal == nil {
		respond.WriteUnauthorized(w, "authentication required")
	}
	return principal
}

// ListUsers GET /api/users
func (h *ChatHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}
	users, err := h.users.ListUsers(r.Context(), principal.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"users": users, "count": len(users)})
}

// ListConversations GET /api/conversations
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}
	convs, err := h.chat.ListConversations(r.Context(), principal.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs, "count": len(convs)})
}

// CreateConversation POST /api/conversations
func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}
	var req struct {
		RecipientID string `json:"recipientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	conv, err := h.chat.CreateConversation(r.Context(), principal.UserID, req.RecipientID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, conv)
}

// GetConversation GET /api/conversations/{conversationId}
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}
	conv, err := h.chat.GetConversation(r.Context(), principal.UserID, mux.Vars(r)["conversationId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, conv)
}

// DeleteConversation DELETE /api/conversations/{conversationId}
func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}
	if err := h.chat.RemoveConversation(r.Context(), principal.UserID, mux.Vars(r)["conversationId"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEntries GET /api/conversations/{conversationId}/entries
func (h *ChatHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}
	req := model.ListEntriesRequest{ConversationID: mux.Vars(r)["conversationId"]}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respond.WriteBadRequest(w, "invalid limit")
			return
		}
		req.Limit = n
	}
	entries, err := h.chat.ListEntries(r.Context(), principal.UserID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

// AddEntry POST /api/conversations/{conversationId}/entries
func (h *ChatHandler) AddEntry(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	entry, err := h.chat.AddEntry(r.Context(), principal.UserID, mux.Vars(r)["conversationId"], req.Content)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, entry)
}
