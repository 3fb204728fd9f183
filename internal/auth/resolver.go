package auth

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/model"
)

// UserLookup is the narrow slice of the store the resolver needs.
type UserLookup interface {
	GetByID(ctx context.Context, userID string) (*model.User, error)
}

// Resolver recovers the acting principal from a raw credential token.
//
// A missing, malformed, expired, or orphaned credential resolves to a nil
// principal: anonymity is a state, not an error. Only a storage failure
// produces a non-nil error. Results are never cached; the principal's
// profile fields may change between requests.
type Resolver struct {
	tokens *TokenAuthenticator
	users  UserLookup
}

func NewResolver(tokens *TokenAuthenticator, users UserLookup) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

// Resolve maps a raw credential to the current principal record, or nil.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*model.User, error) {
	if raw == "" {
		return nil, nil
	}
	userID, err := r.tokens.Verify(raw)
	if err != nil {
		return nil, nil
	}
	u, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}
