// Package events defines the domain events emitted by the write path and
// consumed by authorized subscriptions.
package events

import "github.com/parleyhq/parley/internal/model"

// Kind names the type of a domain event.
type Kind string

const (
	KindConversationCreated Kind = "conversation.created"
	KindConversationRemoved Kind = "conversation.removed"
	KindEntryAdded          Kind = "entry.added"
)

// Topics returns every kind as a bus topic, in a stable order.
func Topics() []string {
	return []string{
		string(KindConversationCreated),
		string(KindConversationRemoved),
		string(KindEntryAdded),
	}
}

// Event is a transient notification of a committed state change. Events are
// never persisted; they exist only for the duration of delivery.
//
// Members always carries the conversation's member IDs as of the committed
// write. For KindConversationRemoved it is the only remaining record of who
// may see the event, since the membership rows are gone by the time the
// event is filtered.
type Event struct {
	Kind           Kind                `json:"kind"`
	ConversationID string              `json:"conversationId"`
	Members        []string            `json:"members"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	Entry          *model.Entry        `json:"entry,omitempty"`
}
