package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/adamavenir/inbox/internal/types"
)

// Backend is the part of the sync session the console drives.
type Backend interface {
	Open(conversationID string)
	SendOptimistic(conversationID string, body types.Body) string
	Retry(localID string) error
	Discard(localID string) error
	LoadOlder(ctx context.Context) (int, error)
	PollNow()
}

// Options configure the console.
type Options struct {
	Backend Backend
	Mailbox *Mailbox
	Logger  zerolog.Logger
	// Operator labels outbound messages.
	Operator string
	// BottomThreshold is the follow distance in content units.
	BottomThreshold int
	// OpenID is opened on start when set.
	OpenID string
	// OnOpen is called whenever the operator switches conversations.
	OnOpen func(conversationID string)
	Now    func() time.Time
}

// Run starts the console and blocks until the operator quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	if opts.Backend == nil || opts.Mailbox == nil {
		return errors.New("chat: backend and mailbox are required")
	}
	fmt.Printf("\033]0;%s\007", "inbox")

	model := NewModel(ctx, opts)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
