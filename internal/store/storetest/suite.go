// Package storetest provides a compliance suite run against every
// store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/store"
)

// Run exercises a minimal compliance suite against a store.Store
// implementation. makeStore must return a clean, isolated store.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	// Users
	ada := mustCreateUser(t, s, "ada-"+uuid.New().String())
	bob := mustCreateUser(t, s, "bob-"+uuid.New().String())

	if _, err := s.Users().Create(ctx, &model.User{Username: ada.Username, PasswordHash: "x"}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate username: want ErrConflict, got %v", err)
	}
	if got, err := s.Users().GetByID(ctx, ada.UserID); err != nil || got.Username != ada.Username {
		t.Fatalf("GetByID: got=%v err=%v", got, err)
	}
	if got, err := s.Users().GetByUsername(ctx, bob.Username); err != nil || got.UserID != bob.UserID {
		t.Fatalf("GetByUsername: got=%v err=%v", got, err)
	}
	if _, err := s.Users().GetByID(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing user: want ErrNotFound, got %v", err)
	}
	if lst, err := s.Users().List(ctx, ada.UserID); err != nil {
		t.Fatalf("ListUsers: %v", err)
	} else {
		for _, u := range lst {
			if u.UserID == ada.UserID {
				t.Fatalf("List must exclude the requesting user")
			}
		}
	}

	// Conversations
	conv, err := s.Conversations().Create(ctx, &model.Conversation{
		CreatedBy: ada.UserID,
		Members:   []string{ada.UserID, bob.UserID},
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ConversationID == "" {
		t.Fatal("CreateConversation: empty id")
	}

	if _, err := s.Conversations().Create(ctx, &model.Conversation{
		CreatedBy: bob.UserID,
		Members:   []string{bob.UserID, ada.UserID},
	}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate direct pair: want ErrConflict, got %v", err)
	}

	if got, err := s.Conversations().FindDirect(ctx, bob.UserID, ada.UserID); err != nil || got.ConversationID != conv.ConversationID {
		t.Fatalf("FindDirect (reversed order): got=%v err=%v", got, err)
	}
	if _, err := s.Conversations().FindDirect(ctx, ada.UserID, "stranger"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("FindDirect missing: want ErrNotFound, got %v", err)
	}

	// Membership oracle
	if ok, err := s.Conversations().IsMember(ctx, conv.ConversationID, ada.UserID); err != nil || !ok {
		t.Fatalf("IsMember(member): ok=%v err=%v", ok, err)
	}
	if ok, err := s.Conversations().IsMember(ctx, conv.ConversationID, "stranger"); err != nil || ok {
		t.Fatalf("IsMember(non-member): ok=%v err=%v", ok, err)
	}
	if ok, err := s.Conversations().IsMember(ctx, "no-such-conversation", ada.UserID); err != nil || ok {
		t.Fatalf("IsMember(missing conversation) must be (false, nil): ok=%v err=%v", ok, err)
	}

	members, err := s.Conversations().Members(ctx, conv.ConversationID)
	if err != nil || len(members) != 2 {
		t.Fatalf("Members: %v err=%v", members, err)
	}

	// Entries
	e1, err := s.Entries().Create(ctx, &model.Entry{ConversationID: conv.ConversationID, SenderID: ada.UserID, Content: "hi"})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	e2, err := s.Entries().Create(ctx, &model.Entry{ConversationID: conv.ConversationID, SenderID: bob.UserID, Content: "hey"})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if _, err := s.Entries().Create(ctx, &model.Entry{ConversationID: "no-such-conversation", SenderID: ada.UserID, Content: "x"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("entry into missing conversation: want ErrNotFound, got %v", err)
	}

	list, err := s.Entries().List(ctx, model.ListEntriesRequest{ConversationID: conv.ConversationID})
	if err != nil || len(list) != 2 {
		t.Fatalf("ListEntries: n=%d err=%v", len(list), err)
	}
	if list[0].EntryID != e1.EntryID || list[1].EntryID != e2.EntryID {
		t.Fatalf("ListEntries order: got %s,%s", list[0].EntryID, list[1].EntryID)
	}
	if got, err := s.Entries().GetByID(ctx, conv.ConversationID, e1.EntryID); err != nil || got.Content != "hi" {
		t.Fatalf("GetEntry: got=%v err=%v", got, err)
	}

	// Listing surfaces activity ordering and previews.
	convs, err := s.Conversations().ListForUser(ctx, ada.UserID)
	if err != nil || len(convs) != 1 {
		t.Fatalf("ListForUser: n=%d err=%v", len(convs), err)
	}
	if convs[0].LastEntry == nil || convs[0].LastEntry.EntryID != e2.EntryID {
		t.Fatalf("ListForUser preview: got %+v", convs[0].LastEntry)
	}

	// Cascade delete
	if err := s.Conversations().Delete(ctx, conv.ConversationID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Conversations().Delete(ctx, conv.ConversationID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("double Delete: want ErrNotFound, got %v", err)
	}
	if _, err := s.Conversations().GetByID(ctx, conv.ConversationID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetByID after delete: want ErrNotFound, got %v", err)
	}
	if lst, err := s.Entries().List(ctx, model.ListEntriesRequest{ConversationID: conv.ConversationID}); err != nil || len(lst) != 0 {
		t.Fatalf("entries must cascade: n=%d err=%v", len(lst), err)
	}
	if ok, err := s.Conversations().IsMember(ctx, conv.ConversationID, ada.UserID); err != nil || ok {
		t.Fatalf("memberships must cascade: ok=%v err=%v", ok, err)
	}

	// Pair key must be released so the pair can converse again.
	if _, err := s.Conversations().Create(ctx, &model.Conversation{
		CreatedBy: ada.UserID,
		Members:   []string{ada.UserID, bob.UserID},
	}); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
}

func mustCreateUser(t *testing.T, s store.Store, username string) *model.User {
	t.Helper()
	u, err := s.Users().Create(context.Background(), &model.User{
		Username:     username,
		PasswordHash: "bcrypt-placeholder",
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return u
}
