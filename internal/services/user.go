package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/store"
)

// UserService handles registration and sign-in.
type UserService struct {
	store  store.Store
	tokens *auth.TokenAuthenticator
}

func NewUserService(s store.Store, tokens *auth.TokenAuthenticator) *UserService {
	return &UserService{store: s, tokens: tokens}
}

// Register creates an account. The password is stored only as a bcrypt hash.
func (s *UserService) Register(ctx context.Context, username, password string, displayName *string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username: %w", model.ErrValidation)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters: %w", model.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return s.store.Users().Create(ctx, &model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	})
}

// SignIn verifies credentials and mints a credential token. Bad username and
// bad password are indistinguishable to the caller.
func (s *UserService) SignIn(ctx context.Context, username, password string) (*model.User, string, error) {
	u, err := s.store.Users().GetByUsername(ctx, username)
	if errors.Is(err, model.ErrNotFound) {
		return nil, "", fmt.Errorf("invalid credentials: %w", model.ErrForbidden)
	}
	if err != nil {
		return nil, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", fmt.Errorf("invalid credentials: %w", model.ErrForbidden)
	}
	token, err := s.tokens.Mint(u.UserID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// ListUsers returns every user except the actor, for starting conversations.
func (s *UserService) ListUsers(ctx context.Context, actorID string) ([]*model.User, error) {
	return s.store.Users().List(ctx, actorID)
}
