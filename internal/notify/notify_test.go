package notify

import (
	"errors"
	"testing"

	"github.com/adamavenir/inbox/internal/core"
	"github.com/adamavenir/inbox/internal/types"
)

func TestTruncateNotification(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 100, "short"},
		{"hello\nworld", 100, "hello world"},
		{"  multiple   spaces  ", 100, "multiple spaces"},
		{"this is a long message that needs truncation", 20, "this is a long mess…"},
		{"olá olá olá olá", 8, "olá olá…"},
		{"", 100, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := truncateNotification(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("truncateNotification(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTitleAndBody(t *testing.T) {
	conv := types.Conversation{ID: "c1", Name: "Ana", Channel: types.ChannelWhatsApp, UnreadCount: 3, Owner: "maria"}
	if got := Title(conv); got != "WhatsApp · Ana" {
		t.Errorf("Title = %q", got)
	}
	if got := Body(conv); got != "3 unread messages (maria)" {
		t.Errorf("Body = %q", got)
	}
	if got := Title(types.Conversation{ID: "c9"}); got != "c9" {
		t.Errorf("Title fallback = %q", got)
	}
	if got := Body(types.Conversation{UnreadCount: 1}); got != "1 unread message" {
		t.Errorf("Body singular = %q", got)
	}
}

func TestDesktopThrottles(t *testing.T) {
	d := NewDesktop(core.NotifyConfig{Enabled: true, PerMinute: 4})
	var sent []string
	d.send = func(title, message, icon string) error {
		sent = append(sent, title)
		return nil
	}

	conv := types.Conversation{ID: "c1", Name: "Ana"}
	if err := d.Notify(conv); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	if err := d.Notify(conv); !errors.Is(err, ErrThrottled) {
		t.Fatalf("second notify = %v, want throttled", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(sent))
	}
}

func TestDesktopDisabled(t *testing.T) {
	d := NewDesktop(core.NotifyConfig{Enabled: false})
	d.send = func(title, message, icon string) error {
		t.Fatal("disabled notifier sent")
		return nil
	}
	if err := d.Notify(types.Conversation{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
}
