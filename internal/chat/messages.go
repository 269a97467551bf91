package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/adamavenir/inbox/internal/core"
	"github.com/adamavenir/inbox/internal/types"
	scroll "github.com/adamavenir/inbox/internal/viewport"
)

// applyStoreChange renders a session change for the open conversation.
func (m *Model) applyStoreChange(msg storeChangedMsg) {
	if msg.conversationID != m.activeID {
		return
	}
	anchor := m.scroller.Capture()
	m.messages = msg.messages
	m.renderThread()
	decision := m.scroller.Apply(anchor, msg.change.Reason)
	switch {
	case decision == scroll.DecisionFollow:
		m.unseen = 0
	case msg.change.Added > 0 && msg.change.Reason == scroll.ReasonPoll:
		m.unseen += msg.change.Added
	}
}

func (m *Model) renderThread() {
	if len(m.messages) == 0 {
		m.surface.setBlocks(nil, nil)
		return
	}
	width := m.mainWidth()
	prefix := core.GetDisplayPrefixLength(len(m.messages))
	ids := make([]string, 0, len(m.messages))
	blocks := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		ids = append(ids, msg.LocalID())
		blocks = append(blocks, m.formatMessage(msg, width, prefix))
	}
	m.surface.setBlocks(ids, blocks)
}

func (m *Model) formatMessage(msg types.Message, width, prefix int) string {
	name := m.operator
	nameColor := operatorColor
	if msg.Direction == types.DirectionInbound {
		name = "customer"
		if conv, ok := m.activeConversation(); ok && conv.Name != "" {
			name = conv.Name
		}
		nameColor = colorForContact(msg.ConversationID)
	}

	header := lipgloss.NewStyle().Bold(true).Foreground(nameColor).Render(name)
	meta := msg.CreatedAt.Local().Format("15:04")
	if serverID, ok := msg.ServerID(); ok {
		meta += " #" + core.ShortID(serverID, prefix)
	}
	header += " " + lipgloss.NewStyle().Foreground(dimColor).Render(meta)

	bodyStyle := lipgloss.NewStyle()
	if width > 2 {
		bodyStyle = bodyStyle.Width(width - 2)
	}
	lines := []string{header}
	if text := strings.TrimRight(msg.Body.Text, "\n"); text != "" {
		lines = append(lines, bodyStyle.Render(text))
	}
	if media := msg.Body.Media; media != nil {
		label := "[media] " + media.URL
		if media.Caption != "" {
			label = fmt.Sprintf("[media] %s (%s)", media.Caption, media.URL)
		}
		lines = append(lines, bodyStyle.Foreground(dimColor).Render(label))
	}
	if msg.Direction == types.DirectionOutbound {
		lines = append(lines, lipgloss.NewStyle().Foreground(colorForStatus(msg.Status)).Render(statusLabel(msg.Status)))
	}
	return strings.Join(lines, "\n")
}

func statusLabel(status types.MessageStatus) string {
	switch status {
	case types.StatusPending:
		return "sending…"
	case types.StatusSent:
		return "✓ sent"
	case types.StatusDelivered:
		return "✓✓ delivered"
	case types.StatusRead:
		return "✓✓ read"
	case types.StatusFailed:
		return "! failed · ctrl+r retry · ctrl+x discard"
	default:
		return string(status)
	}
}

func unseenLabel(n int) string {
	if n == 1 {
		return "1 new message below"
	}
	return fmt.Sprintf("%d new messages below", n)
}
