package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/store/memory"
)

func newPrincipalEcho(t *testing.T) (http.Handler, *auth.TokenAuthenticator, *model.User) {
	t.Helper()
	st := memory.New()
	tokens := auth.NewTokenAuthenticator("mw-secret", "parley-test", time.Hour)
	user, err := st.Users().Create(context.Background(), &model.User{
		UserID: "u1", Username: "ada", PasswordHash: "x",
	})
	require.NoError(t, err)

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := PrincipalFrom(r.Context()); p != nil {
			fmt.Fprint(w, p.UserID)
			return
		}
		fmt.Fprint(w, "anonymous")
	})
	mw := WithPrincipal(auth.NewResolver(tokens, st.Users()), zerolog.Nop())
	return mw(echo), tokens, user
}

func TestWithPrincipalBearerHeader(t *testing.T) {
	h, tokens, user := newPrincipalEcho(t)
	token, err := tokens.Mint(user.UserID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "u1", rec.Body.String())
}

func TestWithPrincipalCookie(t *testing.T) {
	h, tokens, user := newPrincipalEcho(t)
	token, err := tokens.Mint(user.UserID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: token})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "u1", rec.Body.String())
}

func TestWithPrincipalHeaderWinsOverCookie(t *testing.T) {
	h, tokens, user := newPrincipalEcho(t)
	token, err := tokens.Mint(user.UserID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "garbage"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "u1", rec.Body.String())
}

func TestWithPrincipalBadTokenIsAnonymous(t *testing.T) {
	h, _, _ := newPrincipalEcho(t)

	for _, token := range []string{"", "garbage", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "anonymous", rec.Body.String())
	}
}

func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("bad input: %w", model.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("nope: %w", model.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("gone: %w", model.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("dup: %w", model.ErrConflict), http.StatusConflict},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		assert.Equal(t, tc.code, rec.Code, "error %v", tc.err)
	}
}
