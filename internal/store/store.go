// Package store holds the per-conversation ordered message lists the
// console renders from. It performs no I/O and is not safe for concurrent
// use; the sync session owns it from a single goroutine.
package store

import (
	"github.com/adamavenir/inbox/internal/types"
)

// conversation is one ordered list plus its identity index.
type conversation struct {
	messages []types.Message
	byLocal  map[string]int
	byServer map[string]int
}

func newConversation(messages []types.Message) *conversation {
	c := &conversation{messages: messages}
	c.reindex()
	return c
}

// MessageStore maps conversation ids to ordered message lists.
type MessageStore struct {
	conversations map[string]*conversation
	// owner maps a local id to the conversation holding it.
	owner map[string]string
}

// New returns an empty store.
func New() *MessageStore {
	return &MessageStore{
		conversations: make(map[string]*conversation),
		owner:         make(map[string]string),
	}
}

// Get returns a copy of the conversation's messages in display order.
func (s *MessageStore) Get(conversationID string) []types.Message {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	return append([]types.Message(nil), conv.messages...)
}

// Has reports whether the conversation is loaded.
func (s *MessageStore) Has(conversationID string) bool {
	_, ok := s.conversations[conversationID]
	return ok
}

// Replace swaps in a new ordered list. The caller owns ordering.
func (s *MessageStore) Replace(conversationID string, messages []types.Message) {
	s.Evict(conversationID)
	conv := newConversation(append([]types.Message(nil), messages...))
	s.conversations[conversationID] = conv
	for localID := range conv.byLocal {
		s.owner[localID] = conversationID
	}
}

// Upsert overwrites any entry sharing the message's local id or server id,
// keeping its position. When one entry matches by local id and a different
// one by server id, both collapse into the earlier position. Otherwise the
// message is appended. Returns the final index and whether it was appended.
func (s *MessageStore) Upsert(conversationID string, msg types.Message) (int, bool) {
	conv := s.conversations[conversationID]
	if conv == nil {
		conv = newConversation(nil)
		s.conversations[conversationID] = conv
	}

	byLocal, byServer := conv.lookup(msg)
	switch {
	case byLocal < 0 && byServer < 0:
		conv.messages = append(conv.messages, msg)
		conv.index(len(conv.messages) - 1)
		s.owner[msg.LocalID()] = conversationID
		return len(conv.messages) - 1, true
	case byLocal >= 0 && byServer >= 0 && byLocal != byServer:
		keep, drop := byLocal, byServer
		if drop < keep {
			keep, drop = drop, keep
		}
		delete(s.owner, conv.messages[drop].LocalID())
		delete(s.owner, conv.messages[keep].LocalID())
		conv.messages[keep] = msg
		conv.messages = append(conv.messages[:drop], conv.messages[drop+1:]...)
		conv.reindex()
		s.owner[msg.LocalID()] = conversationID
		return keep, false
	case byLocal >= 0:
		conv.set(byLocal, msg)
		return byLocal, false
	default:
		// Matched by server id only: the existing local id wins so the
		// entry keeps a stable key.
		msg.Identity = msg.Identity.WithLocalID(conv.messages[byServer].LocalID())
		conv.set(byServer, msg)
		return byServer, false
	}
}

// Remove deletes the entry with the given local id.
func (s *MessageStore) Remove(conversationID, localID string) bool {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	i, ok := conv.byLocal[localID]
	if !ok {
		return false
	}
	conv.messages = append(conv.messages[:i], conv.messages[i+1:]...)
	conv.reindex()
	if s.owner[localID] == conversationID {
		delete(s.owner, localID)
	}
	return true
}

// Find returns the entry with the given local id.
func (s *MessageStore) Find(conversationID, localID string) (types.Message, bool) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return types.Message{}, false
	}
	i, ok := conv.byLocal[localID]
	if !ok {
		return types.Message{}, false
	}
	return conv.messages[i], true
}

// Locate finds which loaded conversation holds the local id.
func (s *MessageStore) Locate(localID string) (string, types.Message, bool) {
	conversationID, ok := s.owner[localID]
	if !ok {
		return "", types.Message{}, false
	}
	msg, ok := s.Find(conversationID, localID)
	if !ok {
		return "", types.Message{}, false
	}
	return conversationID, msg, true
}

// Evict drops the conversation's list.
func (s *MessageStore) Evict(conversationID string) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for localID := range conv.byLocal {
		if s.owner[localID] == conversationID {
			delete(s.owner, localID)
		}
	}
	delete(s.conversations, conversationID)
}

// Conversations lists loaded conversation ids.
func (s *MessageStore) Conversations() []string {
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	return ids
}

// Reset drops every conversation.
func (s *MessageStore) Reset() {
	s.conversations = make(map[string]*conversation)
	s.owner = make(map[string]string)
}

func (c *conversation) lookup(msg types.Message) (int, int) {
	byLocal, byServer := -1, -1
	if localID := msg.LocalID(); localID != "" {
		if i, ok := c.byLocal[localID]; ok {
			byLocal = i
		}
	}
	if serverID, ok := msg.ServerID(); ok {
		if i, ok := c.byServer[serverID]; ok {
			byServer = i
		}
	}
	return byLocal, byServer
}

// set overwrites position i and moves its index keys.
func (c *conversation) set(i int, msg types.Message) {
	old := c.messages[i]
	if c.byLocal[old.LocalID()] == i {
		delete(c.byLocal, old.LocalID())
	}
	if serverID, ok := old.ServerID(); ok && c.byServer[serverID] == i {
		delete(c.byServer, serverID)
	}
	c.messages[i] = msg
	c.index(i)
}

// index records position i. An earlier entry with the same key keeps it.
func (c *conversation) index(i int) {
	msg := c.messages[i]
	if _, taken := c.byLocal[msg.LocalID()]; !taken {
		c.byLocal[msg.LocalID()] = i
	}
	if serverID, ok := msg.ServerID(); ok {
		if _, taken := c.byServer[serverID]; !taken {
			c.byServer[serverID] = i
		}
	}
}

func (c *conversation) reindex() {
	c.byLocal = make(map[string]int, len(c.messages))
	c.byServer = make(map[string]int, len(c.messages))
	for i := range c.messages {
		c.index(i)
	}
}
