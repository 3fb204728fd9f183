// Package memory provides an in-process store.Store used by tests and by
// DB_DRIVER=memory development mode. Data does not survive the process.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/store"
)

type memStore struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	conversations map[string]*model.Conversation
	members       map[string][]string // conversationID -> userIDs
	directKeys    map[string]string   // DirectKey -> conversationID
	entries       map[string][]*model.Entry
}

// New constructs an empty in-memory store.
func New() store.Store {
	return &memStore{
		users:         make(map[string]*model.User),
		conversations: make(map[string]*model.Conversation),
		members:       make(map[string][]string),
		directKeys:    make(map[string]string),
		entries:       make(map[string][]*model.Entry),
	}
}

func (s *memStore) Users() store.Users                 { return (*memUsers)(s) }
func (s *memStore) Conversations() store.Conversations { return (*memConversations)(s) }
func (s *memStore) Entries() store.Entries             { return (*memEntries)(s) }

// HealthPing implements the health checker used by the HTTP layer.
func (s *memStore) HealthPing(ctx context.Context) error { return ctx.Err() }

// --- Users ---

type memUsers memStore

func (s *memUsers) Create(_ context.Context, u *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return nil, model.ErrConflict
		}
	}
	out := *u
	if out.UserID == "" {
		out.UserID = uuid.New().String()
	}
	out.CreationTime = time.Now().UTC()
	s.users[out.UserID] = &out
	cp := out
	return &cp, nil
}

func (s *memUsers) GetByID(_ context.Context, userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memUsers) List(_ context.Context, excludeID string) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		if u.UserID == excludeID {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationTime.After(out[j].CreationTime) })
	return out, nil
}

// --- Conversations ---

type memConversations memStore

func (s *memConversations) Create(_ context.Context, c *model.Conversation) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ""
	if len(c.Members) == 2 {
		key = store.DirectKey(c.Members[0], c.Members[1])
		if _, exists := s.directKeys[key]; exists {
			return nil, model.ErrConflict
		}
	}

	out := *c
	if out.ConversationID == "" {
		out.ConversationID = uuid.New().String()
	}
	now := time.Now().UTC()
	out.CreationTime = now
	out.LastActivity = now
	out.Members = append([]string(nil), c.Members...)

	s.conversations[out.ConversationID] = &out
	s.members[out.ConversationID] = append([]string(nil), out.Members...)
	if key != "" {
		s.directKeys[key] = out.ConversationID
	}
	cp := out
	return &cp, nil
}

func (s *memConversations) GetByID(_ context.Context, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(conversationID)
}

func (s *memConversations) getLocked(conversationID string) (*model.Conversation, error) {
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *c
	cp.Members = append([]string(nil), s.members[conversationID]...)
	if list := s.entries[conversationID]; len(list) > 0 {
		last := *list[len(list)-1]
		cp.LastEntry = &last
	}
	return &cp, nil
}

func (s *memConversations) FindDirect(_ context.Context, userA, userB string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.directKeys[store.DirectKey(userA, userB)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return s.getLocked(id)
}

func (s *memConversations) ListForUser(_ context.Context, userID string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Conversation
	for id, members := range s.members {
		for _, m := range members {
			if m == userID {
				c, err := s.getLocked(id)
				if err == nil {
					out = append(out, c)
				}
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (s *memConversations) Members(_ context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[conversationID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return append([]string(nil), m...), nil
}

func (s *memConversations) IsMember(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members[conversationID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memConversations) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return model.ErrNotFound
	}
	if members := s.members[conversationID]; len(members) == 2 {
		delete(s.directKeys, store.DirectKey(members[0], members[1]))
	}
	delete(s.conversations, conversationID)
	delete(s.members, conversationID)
	delete(s.entries, conversationID)
	return nil
}

// --- Entries ---

type memEntries memStore

func (s *memEntries) Create(_ context.Context, e *model.Entry) (*model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[e.ConversationID]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := *e
	if out.EntryID == "" {
		out.EntryID = uuid.New().String()
	}
	out.CreationTime = time.Now().UTC()
	s.entries[e.ConversationID] = append(s.entries[e.ConversationID], &out)
	c.LastActivity = out.CreationTime
	cp := out
	return &cp, nil
}

func (s *memEntries) GetByID(_ context.Context, conversationID, entryID string) (*model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries[conversationID] {
		if e.EntryID == entryID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memEntries) List(_ context.Context, req model.ListEntriesRequest) ([]*model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Entry
	for _, e := range s.entries[req.ConversationID] {
		if req.Before != nil && !e.CreationTime.Before(*req.Before) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	return out, nil
}
