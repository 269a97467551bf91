package chat

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adamavenir/inbox/internal/convsync"
	"github.com/adamavenir/inbox/internal/types"
)

type storeChangedMsg struct {
	conversationID string
	messages       []types.Message
	change         convsync.Change
}

type notificationMsg struct {
	conv types.Conversation
}

type conversationsMsg struct {
	convs []types.Conversation
}

// eventsMsg is a batch of session events in arrival order.
type eventsMsg []tea.Msg

// Mailbox is the session listener for the console. Session callbacks run on
// the session loop and only append to the queue; the console drains it from
// a tea.Cmd.
type Mailbox struct {
	mu      sync.Mutex
	pending []tea.Msg
	signal  chan struct{}
}

var _ convsync.Listener = (*Mailbox)(nil)

func NewMailbox() *Mailbox {
	return &Mailbox{signal: make(chan struct{}, 1)}
}

func (b *Mailbox) OnStoreChanged(conversationID string, messages []types.Message, change convsync.Change) {
	b.push(storeChangedMsg{conversationID: conversationID, messages: messages, change: change})
}

func (b *Mailbox) OnNewMessageNotification(conv types.Conversation) {
	b.push(notificationMsg{conv: conv})
}

func (b *Mailbox) OnConversationsChanged(convs []types.Conversation) {
	b.push(conversationsMsg{convs: convs})
}

func (b *Mailbox) push(msg tea.Msg) {
	b.mu.Lock()
	b.pending = append(b.pending, msg)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *Mailbox) drain() eventsMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.pending
	b.pending = nil
	return eventsMsg(batch)
}

// Wait returns a command that blocks until events are queued.
func (b *Mailbox) Wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.signal:
			return b.drain()
		case <-ctx.Done():
			return nil
		}
	}
}
