package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/adamavenir/inbox/internal/types"
)

func (m *Model) View() string {
	if m.width == 0 {
		return "loading…"
	}
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.surface.vp.View(),
		m.renderUnseenBar(),
		m.input.View(),
		lipgloss.NewStyle().Foreground(statusColor).Render(m.statusLine()),
	)
	divider := lipgloss.NewStyle().Foreground(borderColor).Render(strings.Repeat("│\n", m.height-1) + "│")
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderList(), divider, main)
}

func (m *Model) renderHeader() string {
	conv, ok := m.activeConversation()
	if !ok {
		if m.activeID == "" {
			return lipgloss.NewStyle().Foreground(dimColor).Render("no conversation open")
		}
		return m.activeID
	}
	name := lipgloss.NewStyle().Bold(true).Foreground(colorForContact(conv.ID)).Render(conv.Name)
	channel := lipgloss.NewStyle().Foreground(colorForChannel(conv.Channel)).Render(conv.Channel.Label())
	header := name + " · " + channel
	if conv.Owner != "" {
		header += lipgloss.NewStyle().Foreground(dimColor).Render(" · " + conv.Owner)
	}
	return ansi.Truncate(header, m.mainWidth(), "…")
}

func (m *Model) renderUnseenBar() string {
	if m.unseen == 0 {
		return ""
	}
	return lipgloss.NewStyle().Foreground(unreadColor).Render("↓ " + unseenLabel(m.unseen) + " (pgdown)")
}

func (m *Model) renderList() string {
	width := m.listWidth()
	rows := make([]string, 0, m.height)

	title := "conversations"
	if m.filterActive {
		title = "/" + m.filterText
	}
	titleStyle := lipgloss.NewStyle().Bold(true)
	if m.focus == focusList {
		titleStyle = titleStyle.Foreground(unreadColor)
	}
	rows = append(rows, titleStyle.Render(ansi.Truncate(title, width, "…")))

	for i, conv := range m.visibleConversations() {
		if len(rows) >= m.height {
			break
		}
		rows = append(rows, m.renderListRow(conv, i == m.listIndex && m.focus == focusList, width))
	}
	for len(rows) < m.height {
		rows = append(rows, "")
	}
	return lipgloss.NewStyle().Width(width).Render(strings.Join(rows, "\n"))
}

func (m *Model) renderListRow(conv types.Conversation, selected bool, width int) string {
	marker := "  "
	if conv.ID == m.activeID {
		marker = "▸ "
	}
	right := ""
	if conv.LastMessageAt != nil {
		right = relativeTime(*conv.LastMessageAt, m.now())
	}
	if conv.UnreadCount > 0 {
		right = fmt.Sprintf("%d · %s", conv.UnreadCount, right)
	}
	nameWidth := width - len(marker) - ansi.StringWidth(right) - 1
	if nameWidth < 4 {
		nameWidth = 4
	}
	name := ansi.Truncate(conv.Name, nameWidth, "…")
	padding := width - len(marker) - ansi.StringWidth(name) - ansi.StringWidth(right)
	if padding < 1 {
		padding = 1
	}

	nameStyle := lipgloss.NewStyle().Foreground(colorForChannel(conv.Channel))
	rightStyle := lipgloss.NewStyle().Foreground(dimColor)
	if conv.UnreadCount > 0 {
		nameStyle = nameStyle.Bold(true)
		rightStyle = rightStyle.Foreground(unreadColor)
	}
	row := marker + nameStyle.Render(name) + strings.Repeat(" ", padding) + rightStyle.Render(right)
	if selected {
		row = lipgloss.NewStyle().Background(selectedBg).Render(row)
	}
	return ansi.Truncate(row, width, "")
}

func (m *Model) statusLine() string {
	left := m.status
	right := "tab list · enter send · ctrl+y copy · ctrl+c quit"
	if m.loadingOlder {
		left = "loading history…"
	}
	return alignStatusLine(left, right, m.mainWidth())
}

func alignStatusLine(left, right string, width int) string {
	if width <= 0 || right == "" {
		return left
	}
	leftWidth := ansi.StringWidth(left)
	rightWidth := ansi.StringWidth(right)
	if leftWidth+rightWidth+1 > width {
		return left
	}
	return left + strings.Repeat(" ", width-leftWidth-rightWidth) + right
}

// relativeTime renders "3 minutes ago" style stamps.
func relativeTime(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

// RelativeTime is relativeTime against the wall clock.
func RelativeTime(t time.Time) string {
	return humanize.Time(t)
}
