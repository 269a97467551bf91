package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adamavenir/inbox/internal/chat"
	"github.com/adamavenir/inbox/internal/core"
	"github.com/adamavenir/inbox/internal/hostedsync"
	"github.com/adamavenir/inbox/internal/metrics"
)

// NewWatchCmd creates the interactive console command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [conversation]",
		Short: "Open the interactive console",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return writeCommandError(cmd, fmt.Errorf("--json not supported for the interactive console"))
			}
			operator, _ := cmd.Flags().GetString("as")

			ctx, err := GetContext(cmd, "inbox.log")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			client, err := ctx.Client()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			state, err := hostedsync.LoadState(ctx.ConfigDir)
			if err != nil {
				ctx.Log.Warn().Err(err).Msg("Failed to read console state")
				state = &hostedsync.State{}
			}
			// Conversation ids are only meaningful on the server that issued them.
			if state.BaseURL != client.BaseURL() {
				state = &hostedsync.State{BaseURL: client.BaseURL()}
			}
			openID := state.LastConversationID
			if len(args) > 0 {
				openID = args[0]
			}

			engine := metrics.New()
			mailbox := chat.NewMailbox()
			session, err := ctx.NewSession(mailbox, engine, true)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			runCtx, cancel := context.WithCancel(runCtx)
			defer cancel()

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				return session.Run(gctx)
			})
			g.Go(func() error {
				err := core.WatchConfig(gctx, ctx.ConfigPath, ctx.Log, func(cfg core.Config) {
					session.SetPollInterval(cfg.Sync.PollInterval.Duration)
				})
				if err != nil {
					ctx.Log.Warn().Err(err).Str("path", ctx.ConfigPath).Msg("Config reload disabled")
				}
				return nil
			})
			if addr := ctx.Config.Metrics.Addr; addr != "" {
				g.Go(func() error {
					return serveMetrics(gctx, addr, engine, ctx.Log)
				})
			}
			g.Go(func() error {
				defer cancel()
				return chat.Run(gctx, chat.Options{
					Backend:         session,
					Mailbox:         mailbox,
					Logger:          ctx.Log,
					Operator:        operator,
					BottomThreshold: ctx.Config.Viewport.BottomThreshold,
					OpenID:          openID,
					OnOpen: func(conversationID string) {
						state.LastConversationID = conversationID
						if err := hostedsync.SaveState(ctx.ConfigDir, state); err != nil {
							ctx.Log.Debug().Err(err).Msg("Failed to save console state")
						}
					},
				})
			})
			if err := g.Wait(); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().String("as", "", "label for your own messages")
	return cmd
}
