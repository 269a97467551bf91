package types

import "time"

// Channel is the messaging provider a conversation runs on.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTelegram  Channel = "telegram"
	ChannelInstagram Channel = "instagram"
	ChannelMessenger Channel = "messenger"
	ChannelWebchat   Channel = "webchat"
	ChannelEmail     Channel = "email"
)

// Label is the display name of the channel.
func (c Channel) Label() string {
	switch c {
	case ChannelWhatsApp:
		return "WhatsApp"
	case ChannelTelegram:
		return "Telegram"
	case ChannelInstagram:
		return "Instagram"
	case ChannelMessenger:
		return "Messenger"
	case ChannelWebchat:
		return "Webchat"
	case ChannelEmail:
		return "Email"
	default:
		return string(c)
	}
}

// ConversationStatus is the attendance state of a conversation.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationResolved ConversationStatus = "resolved"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

// Conversation represents one customer thread as listed by the server.
type Conversation struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Channel       Channel            `json:"channel"`
	UnreadCount   int                `json:"unread_count"`
	Owner         string             `json:"owner,omitempty"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt *time.Time         `json:"last_message_at,omitempty"`
}

// Direction tells whether a message came from the customer or the operator.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus tracks delivery progress.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders statuses along pending -> sent -> delivered -> read.
// Failed and unknown statuses rank zero.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return 0
	}
}

// Origin records who created the entry in the local view.
type Origin string

const (
	OriginOptimistic Origin = "optimistic"
	OriginServer     Origin = "server"
)

// MediaRef points at a media attachment owned by the upload flow.
type MediaRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Body is the content of a message: text, a media reference, or both.
type Body struct {
	Text  string    `json:"text,omitempty"`
	Media *MediaRef `json:"media,omitempty"`
}

// IsEmpty reports whether the body carries nothing to send.
func (b Body) IsEmpty() bool {
	return b.Text == "" && b.Media == nil
}

// Message is one entry of a conversation's local view.
type Message struct {
	Identity       Identity
	ConversationID string
	Direction      Direction
	Body           Body
	CreatedAt      time.Time
	Status         MessageStatus
	Origin         Origin
	// Seq is the send order within a session. Server-only messages carry 0.
	Seq uint64
}

// LocalID is shorthand for m.Identity.LocalID().
func (m Message) LocalID() string {
	return m.Identity.LocalID()
}

// ServerID is shorthand for m.Identity.ServerID().
func (m Message) ServerID() (string, bool) {
	return m.Identity.ServerID()
}
