package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/api/respond"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/model"
)

// TokenCookieName is the cookie under which the credential token travels.
const TokenCookieName = "parley_token"

type contextKey struct{}

var principalKey contextKey

// PrincipalFrom returns the resolved principal for this request, or nil for
// an anonymous caller.
func PrincipalFrom(ctx context.Context) *model.User {
	u, _ := ctx.Value(principalKey).(*model.User)
	return u
}

// WithPrincipal resolves the request credential (Authorization bearer first,
// then cookie) and stores the principal, possibly nil, on the context. Only
// a storage failure aborts the request; a bad or absent credential proceeds
// anonymously.
func WithPrincipal(resolver *auth.Resolver, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := resolver.Resolve(r.Context(), rawCredential(r))
			if err != nil {
				log.Error().Err(err).Msg("principal resolution failed")
				respond.WriteInternalError(w, "authentication unavailable")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rawCredential extracts the raw token value, or "" when none is present.
// How the token was carried is a transport concern; resolution is not.
func rawCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(TokenCookieName); err == nil {
		return c.Value
	}
	return ""
}
