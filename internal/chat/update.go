package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adamavenir/inbox/internal/convsync"
	"github.com/adamavenir/inbox/internal/types"
)

type olderLoadedMsg struct {
	conversationID string
	added          int
	err            error
}

type actionResultMsg struct {
	action string
	err    error
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case eventsMsg:
		m.handleEvents(msg)
		return m, m.mailbox.Wait(m.ctx)
	case olderLoadedMsg:
		m.handleOlderLoaded(msg)
		return m, nil
	case actionResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		}
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m *Model) handleEvents(batch eventsMsg) {
	for _, event := range batch {
		switch event := event.(type) {
		case storeChangedMsg:
			m.applyStoreChange(event)
		case conversationsMsg:
			m.setConversations(event.convs)
		case notificationMsg:
			m.status = fmt.Sprintf("new message · %s (%s)", event.conv.Name, event.conv.Channel.Label())
		}
	}
}

func (m *Model) setConversations(convs []types.Conversation) {
	selected := ""
	if visible := m.visibleConversations(); m.listIndex < len(visible) {
		selected = visible[m.listIndex].ID
	}
	m.conversations = convs
	m.refreshMatches()
	m.listIndex = 0
	for i, conv := range m.visibleConversations() {
		if conv.ID == selected {
			m.listIndex = i
			break
		}
	}
	// Names show up in message headers.
	m.renderThread()
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "tab":
		if m.filterActive {
			m.filterActive = false
		}
		m.toggleFocus()
		return m, nil
	case "pgup":
		m.surface.scrollBy(-m.surface.vp.Height)
		if m.surface.atTop() {
			return m, m.loadOlderCmd()
		}
		return m, nil
	case "pgdown":
		m.surface.scrollBy(m.surface.vp.Height)
		if m.scroller.Capture().WasAtBottom {
			m.unseen = 0
		}
		return m, nil
	case "ctrl+r":
		return m, m.retryCmd()
	case "ctrl+x":
		return m, m.discardCmd()
	case "ctrl+y":
		m.copyLast()
		return m, nil
	case "ctrl+l":
		m.backend.PollNow()
		m.status = "refreshing"
		return m, nil
	}

	if m.focus == focusList {
		return m.handleListKey(msg)
	}
	if msg.Type == tea.KeyEnter {
		m.submit()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) toggleFocus() {
	if m.focus == focusInput {
		m.focus = focusList
		m.input.Blur()
		return
	}
	m.focus = focusInput
	m.input.Focus()
}

func (m *Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filterActive {
		return m.handleFilterKey(msg)
	}
	visible := m.visibleConversations()
	switch msg.String() {
	case "up", "k":
		if m.listIndex > 0 {
			m.listIndex--
		}
	case "down", "j":
		if m.listIndex < len(visible)-1 {
			m.listIndex++
		}
	case "enter":
		if m.listIndex < len(visible) {
			m.openConversation(visible[m.listIndex].ID)
			m.toggleFocus()
		}
	case "/":
		m.filterActive = true
		m.filterText = ""
		m.refreshMatches()
	case "esc":
		m.toggleFocus()
	}
	return m, nil
}

func (m *Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterActive = false
		m.filterText = ""
		m.refreshMatches()
		return m, nil
	case tea.KeyEnter:
		visible := m.visibleConversations()
		if m.listIndex < len(visible) {
			m.openConversation(visible[m.listIndex].ID)
		}
		m.filterActive = false
		m.filterText = ""
		m.refreshMatches()
		m.toggleFocus()
		return m, nil
	case tea.KeyBackspace:
		if m.filterText != "" {
			runes := []rune(m.filterText)
			m.filterText = string(runes[:len(runes)-1])
		}
	case tea.KeyRunes, tea.KeySpace:
		m.filterText += string(msg.Runes)
	default:
		return m, nil
	}
	m.refreshMatches()
	return m, nil
}

func (m *Model) refreshMatches() {
	if !m.filterActive {
		m.filter = nil
		m.matches = nil
		return
	}
	filter, err := NewFilter(m.filterText)
	if err != nil {
		m.status = "bad filter: " + err.Error()
		return
	}
	m.filter = filter
	m.matches = filter.Apply(m.conversations)
	m.listIndex = 0
}

func (m *Model) submit() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return
	}
	if m.activeID == "" {
		m.status = "open a conversation first (tab)"
		return
	}
	m.backend.SendOptimistic(m.activeID, types.Body{Text: text})
	m.input.Reset()
	m.status = ""
}

func (m *Model) loadOlderCmd() tea.Cmd {
	if m.activeID == "" || m.loadingOlder {
		return nil
	}
	m.loadingOlder = true
	conversationID := m.activeID
	backend := m.backend
	ctx := m.ctx
	return func() tea.Msg {
		added, err := backend.LoadOlder(ctx)
		return olderLoadedMsg{conversationID: conversationID, added: added, err: err}
	}
}

func (m *Model) handleOlderLoaded(msg olderLoadedMsg) {
	if msg.conversationID != m.activeID {
		return
	}
	m.loadingOlder = false
	switch {
	case msg.err != nil && !errors.Is(msg.err, context.Canceled):
		m.status = "history: " + msg.err.Error()
	case msg.added == 0 && msg.err == nil:
		m.status = "beginning of conversation"
	}
}

func (m *Model) retryCmd() tea.Cmd {
	failed, ok := m.lastMessage(func(msg types.Message) bool {
		return msg.Status == types.StatusFailed
	})
	if !ok {
		m.status = "nothing to retry"
		return nil
	}
	return m.actionCmd("retry", func() error { return m.backend.Retry(failed.LocalID()) })
}

func (m *Model) discardCmd() tea.Cmd {
	target, ok := m.lastMessage(func(msg types.Message) bool {
		return !msg.Identity.Confirmed()
	})
	if !ok {
		m.status = "nothing to discard"
		return nil
	}
	return m.actionCmd("discard", func() error { return m.backend.Discard(target.LocalID()) })
}

func (m *Model) actionCmd(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		err := fn()
		if errors.Is(err, convsync.ErrSessionStopped) {
			return nil
		}
		return actionResultMsg{action: action, err: err}
	}
}

func (m *Model) copyLast() {
	last, ok := m.lastMessage(func(msg types.Message) bool {
		return copyText(msg) != ""
	})
	if !ok {
		m.status = "nothing to copy"
		return
	}
	if err := copyToClipboard(copyText(last)); err != nil {
		m.status = "copy failed: " + err.Error()
		return
	}
	m.status = "copied message"
}
