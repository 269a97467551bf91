// Package notify raises desktop notifications for new customer messages.
package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/beeep"
	"golang.org/x/time/rate"

	"github.com/adamavenir/inbox/internal/core"
	"github.com/adamavenir/inbox/internal/types"
)

// ErrThrottled is returned when a notification was dropped by the rate limit.
var ErrThrottled = errors.New("notification throttled")

const maxBodyLen = 100

// Desktop sends OS notifications through beeep, at most PerMinute per minute.
type Desktop struct {
	enabled bool
	limiter *rate.Limiter
	send    func(title, message, icon string) error
}

// NewDesktop builds a notifier from the [notify] section.
func NewDesktop(cfg core.NotifyConfig) *Desktop {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = core.DefaultConfig().Notify.PerMinute
	}
	burst := perMinute / 4
	if burst < 1 {
		burst = 1
	}
	return &Desktop{
		enabled: cfg.Enabled,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		send: func(title, message, icon string) error {
			return beeep.Notify(title, message, icon)
		},
	}
}

// Notify announces new unread messages in conv.
func (d *Desktop) Notify(conv types.Conversation) error {
	if !d.enabled {
		return nil
	}
	if !d.limiter.Allow() {
		return ErrThrottled
	}
	return d.send(Title(conv), Body(conv), "")
}

// Title is "<channel> · <name>", falling back to the id.
func Title(conv types.Conversation) string {
	name := conv.Name
	if name == "" {
		name = conv.ID
	}
	if conv.Channel == "" {
		return name
	}
	return conv.Channel.Label() + " · " + name
}

// Body summarizes the unread count.
func Body(conv types.Conversation) string {
	var body string
	switch conv.UnreadCount {
	case 0:
		body = "New activity"
	case 1:
		body = "1 unread message"
	default:
		body = fmt.Sprintf("%d unread messages", conv.UnreadCount)
	}
	if conv.Owner != "" {
		body += " (" + conv.Owner + ")"
	}
	return truncateNotification(body, maxBodyLen)
}

func truncateNotification(s string, maxLen int) string {
	// Collapse whitespace for notification
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
