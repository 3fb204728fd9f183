package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/model"
)

// Replica is a local mirror of the conversations the caller has
// materialized. Writes are staged optimistically under placeholder IDs and
// reconciled against server responses and broadcast events.
//
// Conversations are kept most-recently-active first. Entries within a
// conversation are deduplicated by ID, authoritative data winning over
// optimistic placeholders.
type Replica struct {
	mu            sync.Mutex
	order         []string // conversation IDs, most recent first
	conversations map[string]*model.Conversation
	entries       map[string][]model.Entry // conversationID -> ascending by arrival
}

// NewReplica returns an empty replica.
func NewReplica() *Replica {
	return &Replica{
		conversations: make(map[string]*model.Conversation),
		entries:       make(map[string][]model.Entry),
	}
}

func placeholderID() string {
	return "pending-" + uuid.NewString()
}

// Conversations returns the materialized conversations, most recently
// active first.
func (r *Replica) Conversations() []model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Conversation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.conversations[id])
	}
	return out
}

// Entries returns the entry list for a conversation in arrival order.
// A conversation that is not materialized yields nil.
func (r *Replica) Entries(conversationID string) []model.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.entries[conversationID]
	if src == nil {
		return nil
	}
	out := make([]model.Entry, len(src))
	copy(out, src)
	return out
}

// Load replaces the replica's view of a conversation with
// server-authoritative data. Staged placeholders for that conversation are
// dropped.
func (r *Replica) Load(conv model.Conversation, entries []model.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := conv
	r.conversations[conv.ConversationID] = &c
	r.entries[conv.ConversationID] = append([]model.Entry(nil), entries...)
	r.moveToFrontLocked(conv.ConversationID)
}

// StageConversation inserts an optimistic conversation under a placeholder
// ID and returns that ID. The caller later discards it, or loads the
// authoritative conversation on success.
func (r *Replica) StageConversation(members []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := placeholderID()
	r.conversations[id] = &model.Conversation{
		ConversationID: id,
		Members:        append([]string(nil), members...),
		CreationTime:   time.Now(),
		LastActivity:   time.Now(),
	}
	r.entries[id] = nil
	r.moveToFrontLocked(id)
	return id
}

// DiscardConversation removes a staged conversation. Removing an unknown ID
// is a no-op.
func (r *Replica) DiscardConversation(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

// StageEntry appends an optimistic entry under a placeholder ID and bumps
// the conversation to the front. It returns the placeholder ID, or an error
// if the conversation is not materialized locally.
func (r *Replica) StageEntry(conversationID, senderID, content string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[conversationID]; !ok {
		return "", fmt.Errorf("conversation %s not materialized", conversationID)
	}
	id := placeholderID()
	r.entries[conversationID] = append(r.entries[conversationID], model.Entry{
		EntryID:        id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreationTime:   time.Now(),
	})
	r.conversations[conversationID].LastActivity = time.Now()
	r.moveToFrontLocked(conversationID)
	return id, nil
}

// ConfirmEntry unifies a staged entry with the authoritative one returned by
// the server. If the authoritative ID already arrived via broadcast the
// placeholder is dropped and the broadcast copy kept.
func (r *Replica) ConfirmEntry(placeholderID string, authoritative model.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.entries[authoritative.ConversationID]
	placeholderIdx, authoritativeSeen := -1, false
	for i := range list {
		switch list[i].EntryID {
		case placeholderID:
			placeholderIdx = i
		case authoritative.EntryID:
			authoritativeSeen = true
		}
	}
	if placeholderIdx < 0 {
		return
	}
	if authoritativeSeen {
		r.entries[authoritative.ConversationID] = append(list[:placeholderIdx], list[placeholderIdx+1:]...)
		return
	}
	list[placeholderIdx] = authoritative
}

// DiscardEntry rolls back a staged entry after a server failure. The
// surrounding conversation is left untouched.
func (r *Replica) DiscardEntry(conversationID, placeholderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.entries[conversationID]
	for i := range list {
		if list[i].EntryID == placeholderID {
			r.entries[conversationID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Apply merges a broadcast event into the replica. Events for conversations
// that are not materialized locally are ignored, except removals of staged
// or known conversations which always take effect.
func (r *Replica) Apply(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Kind {
	case events.KindConversationCreated:
		if _, ok := r.conversations[ev.ConversationID]; ok {
			return
		}
		conv := ev.Conversation
		if conv == nil {
			conv = &model.Conversation{ConversationID: ev.ConversationID, Members: ev.Members}
		}
		c := *conv
		r.conversations[ev.ConversationID] = &c
		r.entries[ev.ConversationID] = nil
		r.moveToFrontLocked(ev.ConversationID)

	case events.KindEntryAdded:
		conv, ok := r.conversations[ev.ConversationID]
		if !ok || ev.Entry == nil {
			return
		}
		for _, e := range r.entries[ev.ConversationID] {
			if e.EntryID == ev.Entry.EntryID {
				return
			}
		}
		r.entries[ev.ConversationID] = append(r.entries[ev.ConversationID], *ev.Entry)
		conv.LastActivity = ev.Entry.CreationTime
		last := *ev.Entry
		conv.LastEntry = &last
		r.moveToFrontLocked(ev.ConversationID)

	case events.KindConversationRemoved:
		r.removeLocked(ev.ConversationID)
	}
}

func (r *Replica) moveToFrontLocked(id string) {
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.order = append([]string{id}, r.order...)
}

func (r *Replica) removeLocked(id string) {
	if _, ok := r.conversations[id]; !ok {
		return
	}
	delete(r.conversations, id)
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
