package model

import "time"

// User represents an account in the system.
type User struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	DisplayName  *string   `json:"displayName,omitempty"`
	AvatarURL    *string   `json:"avatarUrl,omitempty"`
	PasswordHash string    `json:"-"`
	CreationTime time.Time `json:"creationTime"`
}

// Conversation is a fixed-membership context for entries.
// Members is populated on create and by queries that join the membership
// relation; it is the authorization source of truth for broadcast filtering.
type Conversation struct {
	ConversationID string    `json:"conversationId"`
	CreatedBy      string    `json:"createdBy"`
	Members        []string  `json:"members,omitempty"`
	CreationTime   time.Time `json:"creationTime"`
	// LastActivity drives most-recent-first ordering in listings.
	LastActivity time.Time `json:"lastActivity"`
	// LastEntry is an optional preview of the newest entry.
	LastEntry *Entry `json:"lastEntry,omitempty"`
}

// Entry is an immutable message inside a conversation.
type Entry struct {
	EntryID        string    `json:"entryId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreationTime   time.Time `json:"creationTime"`
}

// ListEntriesRequest captures filters used when listing entries.
type ListEntriesRequest struct {
	ConversationID string
	Limit          int
	Before         *time.Time
}
