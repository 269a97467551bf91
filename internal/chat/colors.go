package chat

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"

	"github.com/adamavenir/inbox/internal/types"
)

var contactPalette = []lipgloss.Color{
	lipgloss.Color("111"),
	lipgloss.Color("157"),
	lipgloss.Color("216"),
	lipgloss.Color("36"),
	lipgloss.Color("183"),
	lipgloss.Color("230"),
}

var (
	operatorColor = lipgloss.Color("252")
	dimColor      = lipgloss.Color("242")
	statusColor   = lipgloss.Color("245")
	selectedBg    = lipgloss.Color("237")
	unreadColor   = lipgloss.Color("214")
	failedColor   = lipgloss.Color("196")
	pendingColor  = lipgloss.Color("220")
	deliveredTint = lipgloss.Color("42")
	borderColor   = lipgloss.Color("238")
)

var channelColors = map[types.Channel]lipgloss.Color{
	types.ChannelWhatsApp:  lipgloss.Color("35"),
	types.ChannelTelegram:  lipgloss.Color("39"),
	types.ChannelInstagram: lipgloss.Color("170"),
	types.ChannelMessenger: lipgloss.Color("33"),
	types.ChannelWebchat:   lipgloss.Color("180"),
	types.ChannelEmail:     lipgloss.Color("146"),
}

// colorForContact picks a stable palette entry for a conversation.
func colorForContact(conversationID string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return contactPalette[int(h.Sum32()%uint32(len(contactPalette)))]
}

func colorForChannel(channel types.Channel) lipgloss.Color {
	if color, ok := channelColors[channel]; ok {
		return color
	}
	return dimColor
}

func colorForStatus(status types.MessageStatus) lipgloss.Color {
	switch status {
	case types.StatusFailed:
		return failedColor
	case types.StatusPending:
		return pendingColor
	case types.StatusDelivered, types.StatusRead:
		return deliveredTint
	default:
		return dimColor
	}
}
