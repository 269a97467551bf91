package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adamavenir/inbox/internal/convsync"
	"github.com/adamavenir/inbox/internal/metrics"
	"github.com/adamavenir/inbox/internal/types"
)

// NewTailCmd follows one conversation without the console.
func NewTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <conversation>",
		Short: "Print messages of a conversation as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notifyDesktop, _ := cmd.Flags().GetBool("notify")

			ctx, err := GetContext(cmd, "")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			engine := metrics.New()
			printer := newTailPrinter(cmd.OutOrStdout(), ctx.JSONMode, ctx.Log)
			session, err := ctx.NewSession(printer, engine, notifyDesktop)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			session.Open(args[0])

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				return session.Run(gctx)
			})
			if addr := ctx.Config.Metrics.Addr; addr != "" {
				g.Go(func() error {
					return serveMetrics(gctx, addr, engine, ctx.Log)
				})
			}
			if err := g.Wait(); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().Bool("notify", false, "show desktop notifications for other conversations")
	return cmd
}

type tailRecord struct {
	ConversationID string              `json:"conversation_id"`
	LocalID        string              `json:"local_id"`
	ServerID       string              `json:"server_id,omitempty"`
	Direction      types.Direction     `json:"direction"`
	Text           string              `json:"text,omitempty"`
	MediaURL       string              `json:"media_url,omitempty"`
	Status         types.MessageStatus `json:"status"`
	CreatedAt      string              `json:"created_at"`
}

// tailPrinter prints each message once, and again whenever its status moves.
type tailPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	jsonMode bool
	log      zerolog.Logger
	printed  map[string]types.MessageStatus
	names    map[string]string
}

var _ convsync.Listener = (*tailPrinter)(nil)

func newTailPrinter(out io.Writer, jsonMode bool, log zerolog.Logger) *tailPrinter {
	return &tailPrinter{
		out:      out,
		jsonMode: jsonMode,
		log:      log,
		printed:  map[string]types.MessageStatus{},
		names:    map[string]string{},
	}
}

func (p *tailPrinter) OnStoreChanged(conversationID string, messages []types.Message, change convsync.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.Debug().Str("conversation", conversationID).Str("change", change.Kind.String()).Str("reason", change.Reason.String()).Msg("Store changed")
	for _, msg := range messages {
		if status, ok := p.printed[msg.LocalID()]; ok && status == msg.Status {
			continue
		}
		p.printed[msg.LocalID()] = msg.Status
		p.print(msg)
	}
}

func (p *tailPrinter) OnNewMessageNotification(conv types.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jsonMode {
		return
	}
	fmt.Fprintf(p.out, "* new message in %s (%s, %d unread)\n", conv.Name, conv.Channel.Label(), conv.UnreadCount)
}

func (p *tailPrinter) OnConversationsChanged(convs []types.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conv := range convs {
		p.names[conv.ID] = conv.Name
	}
}

func (p *tailPrinter) print(msg types.Message) {
	serverID, _ := msg.ServerID()
	if p.jsonMode {
		record := tailRecord{
			ConversationID: msg.ConversationID,
			LocalID:        msg.LocalID(),
			ServerID:       serverID,
			Direction:      msg.Direction,
			Text:           msg.Body.Text,
			Status:         msg.Status,
			CreatedAt:      msg.CreatedAt.Format(time.RFC3339),
		}
		if msg.Body.Media != nil {
			record.MediaURL = msg.Body.Media.URL
		}
		_ = json.NewEncoder(p.out).Encode(record)
		return
	}

	who := "you"
	if msg.Direction == types.DirectionInbound {
		who = p.names[msg.ConversationID]
		if who == "" {
			who = "customer"
		}
	}
	text := msg.Body.Text
	if msg.Body.Media != nil {
		text += " [media " + msg.Body.Media.URL + "]"
	}
	fmt.Fprintf(p.out, "%s %s: %s (%s)\n", msg.CreatedAt.Local().Format("15:04"), who, text, msg.Status)
}
