// Package store defines the persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres, sqlite,
// memory).
package store

import (
	"context"

	"github.com/parleyhq/parley/internal/model"
)

type Store interface {
	Users() Users
	Conversations() Conversations
	Entries() Entries
}

type Users interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	GetByID(ctx context.Context, userID string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// List returns all users except excludeID, newest first.
	List(ctx context.Context, excludeID string) ([]*model.User, error)
}

type Conversations interface {
	// Create inserts the conversation and one membership row per member in a
	// single transaction. A direct conversation for the same pair must be
	// rejected with model.ErrConflict (unique pair key).
	Create(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	GetByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	// FindDirect locates the direct conversation between two users, in
	// either argument order. model.ErrNotFound when absent.
	FindDirect(ctx context.Context, userA, userB string) (*model.Conversation, error)
	// ListForUser returns the user's conversations, most recent activity
	// first, each with members and a last-entry preview populated.
	ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error)
	Members(ctx context.Context, conversationID string) ([]string, error)
	// IsMember is the membership oracle: a missing conversation yields
	// (false, nil), never an error.
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	// Delete removes the conversation, cascading entries and memberships.
	Delete(ctx context.Context, conversationID string) error
}

type Entries interface {
	Create(ctx context.Context, e *model.Entry) (*model.Entry, error)
	GetByID(ctx context.Context, conversationID, entryID string) (*model.Entry, error)
	List(ctx context.Context, req model.ListEntriesRequest) ([]*model.Entry, error)
}

// DirectKey normalizes a user pair into the unique key guarding direct
// conversations against concurrent double-creation.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}
