package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamavenir/inbox/internal/core"
	"github.com/adamavenir/inbox/internal/types"
)

// NewSendCmd sends one message and waits for the server to store it.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <conversation> <text...>",
		Short: "Send a message to a conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaURL, _ := cmd.Flags().GetString("media")
			caption, _ := cmd.Flags().GetString("caption")

			ctx, err := GetContext(cmd, "")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			body := types.Body{Text: strings.TrimSpace(strings.Join(args[1:], " "))}
			if mediaURL != "" {
				body.Media = &types.MediaRef{URL: mediaURL, Caption: caption}
			}
			if body.IsEmpty() {
				return writeCommandError(cmd, fmt.Errorf("message text or --media is required"))
			}

			client, err := ctx.Client()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			reqCtx, cancel := withTimeout(cmd, ctx.Config.Sync.SendTimeout.Duration)
			defer cancel()
			localID := core.NewLocalID()
			remote, err := client.SendMessage(reqCtx, args[0], body, localID)
			if err != nil {
				return writeCommandError(cmd, fmt.Errorf("send to %s: %w", args[0], err))
			}
			ctx.Log.Debug().Str("conversation", args[0]).Str("local_id", localID).Str("server_id", remote.ID).Msg("Message sent")

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(remote)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s (%s)\n", remote.ID, remote.Status)
			return nil
		},
	}

	cmd.Flags().String("media", "", "URL of an already uploaded attachment")
	cmd.Flags().String("caption", "", "caption for --media")
	return cmd
}
