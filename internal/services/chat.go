package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/store"
)

// ChatService owns the write path for conversations and entries. Every
// mutation commits against the store first and publishes its event only
// after the write has unconditionally succeeded (write-then-notify).
type ChatService struct {
	store store.Store
	bus   *bus.Bus
	log   zerolog.Logger
}

func NewChatService(s store.Store, b *bus.Bus, log zerolog.Logger) *ChatService {
	return &ChatService{store: s, bus: b, log: log}
}

// CreateConversation opens (or returns) the direct conversation between
// actor and recipient. The create is idempotent: an existing conversation
// for the pair is returned without a new row and without an event, so
// at-least-once client retries cannot duplicate conversations.
func (s *ChatService) CreateConversation(ctx context.Context, actorID, recipientID string) (*model.Conversation, error) {
	if recipientID == "" || recipientID == actorID {
		return nil, fmt.Errorf("recipient: %w", model.ErrValidation)
	}
	if _, err := s.store.Users().GetByID(ctx, recipientID); err != nil {
		return nil, fmt.Errorf("recipient %s: %w", recipientID, err)
	}

	if existing, err := s.store.Conversations().FindDirect(ctx, actorID, recipientID); err == nil {
		return existing, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	conv, err := s.store.Conversations().Create(ctx, &model.Conversation{
		CreatedBy: actorID,
		Members:   []string{actorID, recipientID},
	})
	if errors.Is(err, model.ErrConflict) {
		// Lost a race with a concurrent create for the same pair; the
		// winner's row is the conversation, and the winner published.
		return s.store.Conversations().FindDirect(ctx, actorID, recipientID)
	}
	if err != nil {
		return nil, err
	}

	s.bus.Publish(string(events.KindConversationCreated), events.Event{
		Kind:           events.KindConversationCreated,
		ConversationID: conv.ConversationID,
		Members:        append([]string(nil), conv.Members...),
		Conversation:   conv,
	})
	s.log.Info().Str("conversation_id", conv.ConversationID).Str("actor_id", actorID).Msg("conversation created")
	return conv, nil
}

// AddEntry appends a message to a conversation the actor belongs to.
func (s *ChatService) AddEntry(ctx context.Context, actorID, conversationID, content string) (*model.Entry, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content: %w", model.ErrValidation)
	}

	ok, err := s.store.Conversations().IsMember(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Distinguish a missing conversation from a membership denial.
		if _, err := s.store.Conversations().GetByID(ctx, conversationID); errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("user %s is not a member of %s: %w", actorID, conversationID, model.ErrForbidden)
	}

	entry, err := s.store.Entries().Create(ctx, &model.Entry{
		ConversationID: conversationID,
		SenderID:       actorID,
		Content:        content,
	})
	if err != nil {
		return nil, err
	}

	members, err := s.store.Conversations().Members(ctx, conversationID)
	if err != nil {
		// The write committed; deliver with an empty snapshot rather than
		// fail the mutation. Live filtering does not need the snapshot.
		s.log.Error().Err(err).Str("conversation_id", conversationID).Msg("member snapshot unavailable for entry event")
		members = nil
	}
	s.bus.Publish(string(events.KindEntryAdded), events.Event{
		Kind:           events.KindEntryAdded,
		ConversationID: conversationID,
		Members:        members,
		Entry:          entry,
	})
	return entry, nil
}

// RemoveConversation deletes a conversation the actor belongs to, cascading
// entries and memberships. The published event carries the prior member
// snapshot: after the cascade there is no membership row left to consult.
func (s *ChatService) RemoveConversation(ctx context.Context, actorID, conversationID string) error {
	members, err := s.store.Conversations().Members(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	isMember := false
	for _, m := range members {
		if m == actorID {
			isMember = true
			break
		}
	}
	if !isMember {
		return fmt.Errorf("user %s is not a member of %s: %w", actorID, conversationID, model.ErrForbidden)
	}

	if err := s.store.Conversations().Delete(ctx, conversationID); err != nil {
		return err
	}

	s.bus.Publish(string(events.KindConversationRemoved), events.Event{
		Kind:           events.KindConversationRemoved,
		ConversationID: conversationID,
		Members:        members,
	})
	s.log.Info().Str("conversation_id", conversationID).Str("actor_id", actorID).Msg("conversation removed")
	return nil
}

// --- Reads (thin delegation) ---

func (s *ChatService) GetConversation(ctx context.Context, actorID, conversationID string) (*model.Conversation, error) {
	ok, err := s.store.Conversations().IsMember(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
	}
	return s.store.Conversations().GetByID(ctx, conversationID)
}

func (s *ChatService) ListConversations(ctx context.Context, actorID string) ([]*model.Conversation, error) {
	return s.store.Conversations().ListForUser(ctx, actorID)
}

func (s *ChatService) ListEntries(ctx context.Context, actorID string, req model.ListEntriesRequest) ([]*model.Entry, error) {
	ok, err := s.store.Conversations().IsMember(ctx, req.ConversationID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", req.ConversationID, model.ErrNotFound)
	}
	return s.store.Entries().List(ctx, req)
}
