package convsync

import "github.com/adamavenir/inbox/internal/types"

// ListSynchronizer detects unread-count increases between list refreshes.
type ListSynchronizer struct {
	previous          map[string]types.Conversation
	firstLoadComplete bool
}

// NewListSynchronizer returns a synchronizer that has not seen a list yet.
func NewListSynchronizer() *ListSynchronizer {
	return &ListSynchronizer{previous: map[string]types.Conversation{}}
}

// Observe records list as the new snapshot and returns the conversations
// that should raise a new-message notification: seen before, unread count
// up, and not the one open. The first list ever observed returns nothing.
func (l *ListSynchronizer) Observe(list []types.Conversation, openID string) []types.Conversation {
	var notify []types.Conversation
	next := make(map[string]types.Conversation, len(list))
	for _, conv := range list {
		next[conv.ID] = conv
		if !l.firstLoadComplete || conv.ID == openID {
			continue
		}
		prev, seen := l.previous[conv.ID]
		if seen && conv.UnreadCount > prev.UnreadCount {
			notify = append(notify, conv)
		}
	}
	l.previous = next
	l.firstLoadComplete = true
	return notify
}

// FirstLoadComplete reports whether a list has been observed.
func (l *ListSynchronizer) FirstLoadComplete() bool {
	return l.firstLoadComplete
}

// Reset forgets the previous snapshot; the next list is a first load again.
func (l *ListSynchronizer) Reset() {
	l.previous = map[string]types.Conversation{}
	l.firstLoadComplete = false
}
