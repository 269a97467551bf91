package command

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamavenir/inbox/internal/hostedsync"
)

// NewLoginCmd verifies and saves API credentials.
func NewLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save API credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawURL, _ := cmd.Flags().GetString("url")
			token, _ := cmd.Flags().GetString("token")
			skipCheck, _ := cmd.Flags().GetBool("no-verify")

			ctx, err := GetContext(cmd, "")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			if rawURL == "" {
				rawURL = ctx.Config.API.URL
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return writeCommandError(cmd, fmt.Errorf("--token is required"))
			}
			client, err := hostedsync.NewClient(rawURL, token, ctx.Config.API.Timeout.Duration)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			count := -1
			if !skipCheck {
				reqCtx, cancel := withTimeout(cmd, ctx.Config.API.Timeout.Duration)
				convs, err := client.FetchConversations(reqCtx)
				cancel()
				if err != nil {
					return writeCommandError(cmd, fmt.Errorf("verify credentials: %w", err))
				}
				count = len(convs)
			}

			creds := hostedsync.Credentials{URL: client.BaseURL(), Token: token}
			if err := hostedsync.SaveCredentials(ctx.ConfigDir, creds); err != nil {
				return writeCommandError(cmd, err)
			}
			// A new server invalidates the remembered conversation.
			if err := hostedsync.SaveState(ctx.ConfigDir, &hostedsync.State{BaseURL: client.BaseURL()}); err != nil {
				ctx.Log.Debug().Err(err).Msg("Failed to reset console state")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", client.BaseURL())
			if count >= 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d conversations visible\n", count)
			}
			return nil
		},
	}

	cmd.Flags().String("url", "", "API base url (https://...)")
	cmd.Flags().String("token", "", "API token")
	cmd.Flags().Bool("no-verify", false, "save without contacting the server")
	return cmd
}
