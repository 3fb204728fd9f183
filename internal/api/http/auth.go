package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/api/respond"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/services"
)

// AuthHandler provides HTTP transport for registration and sign-in.
type AuthHandler struct {
	users         *services.UserService
	tokenValidity time.Duration
	secureCookies bool
}

func NewAuthHandler(users *services.UserService, tokenValidity time.Duration, secureCookies bool) *AuthHandler {
	return &AuthHandler{users: users, tokenValidity: tokenValidity, secureCookies: secureCookies}
}

// SignUp POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string  `json:"username"`
		Password    string  `json:"password"`
		DisplayName *string `json:"displayName,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	u, err := h.users.Register(r.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, u)
}

// SignIn POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	u, token, err := h.users.SignIn(r.Context(), req.Username, req.Password)
	if err != nil {
		// Bad credentials are a 401 at the transport boundary.
		if errors.Is(err, model.ErrForbidden) {
			respond.WriteUnauthorized(w, "invalid credentials")
			return
		}
		writeDomainError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokenValidity / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user":  u,
		"token": token,
	})
}

// SignOut POST /api/auth/signout
//
// Tokens are stateless; signing out just discards the cookie. A token held
// elsewhere stays valid until expiry.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
