package types

import (
	"errors"
	"time"
)

// RemoteMessage is a message as returned by the hosted API.
type RemoteMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Direction      Direction     `json:"direction"`
	Text           string        `json:"text,omitempty"`
	Media          *MediaRef     `json:"media,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Status         MessageStatus `json:"status"`
	// ClientRef echoes the local id supplied when the message was sent.
	ClientRef string `json:"client_ref,omitempty"`
}

// MessagePage is one fetchMessages result.
type MessagePage struct {
	Messages   []RemoteMessage `json:"messages"`
	TotalCount int             `json:"total_count"`
}

// Partial reports whether the page holds fewer messages than the server has.
func (p MessagePage) Partial() bool {
	return p.TotalCount > len(p.Messages)
}

var (
	errMissingID        = errors.New("remote message missing id")
	errMissingTimestamp = errors.New("remote message missing created_at")
)

// Validate rejects items that cannot be placed in a conversation.
func (r RemoteMessage) Validate() error {
	if r.ID == "" {
		return errMissingID
	}
	if r.CreatedAt.IsZero() {
		return errMissingTimestamp
	}
	return nil
}

// ToMessage converts the record into a confirmed local entry.
// An empty localID falls back to the server id.
func (r RemoteMessage) ToMessage(localID string) Message {
	status := r.Status
	if status == "" {
		status = StatusSent
	}
	direction := r.Direction
	if direction == "" {
		direction = DirectionInbound
	}
	return Message{
		Identity:       ConfirmedIdentity(localID, r.ID),
		ConversationID: r.ConversationID,
		Direction:      direction,
		Body:           Body{Text: r.Text, Media: r.Media},
		CreatedAt:      r.CreatedAt,
		Status:         status,
		Origin:         OriginServer,
	}
}
