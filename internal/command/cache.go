package command

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamavenir/inbox/internal/chat"
)

// NewCacheCmd manages the snapshot cache of conversations navigated away from.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the conversation snapshot cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newCacheListCmd(), newCacheClearCmd())
	return cmd
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd, "")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			cache, _, err := ctx.OpenCache()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if cache == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache disabled")
				return nil
			}
			infos, err := cache.List()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache empty")
				return nil
			}
			for _, info := range infos {
				unsent := ""
				if info.Unconfirmed > 0 {
					unsent = fmt.Sprintf("  %d unsent", info.Unconfirmed)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %d messages%s  saved %s\n",
					info.ConversationID, info.MessageCount, unsent, chat.RelativeTime(info.SavedAt))
			}
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [conversation...]",
		Short: "Drop cached snapshots (all when no conversation is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd, "")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			cache, _, err := ctx.OpenCache()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if cache == nil {
				return nil
			}
			ids := args
			if len(ids) == 0 {
				infos, err := cache.List()
				if err != nil {
					return writeCommandError(cmd, err)
				}
				for _, info := range infos {
					ids = append(ids, info.ConversationID)
				}
			}
			for _, id := range ids {
				if err := cache.Delete(id); err != nil {
					return writeCommandError(cmd, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d snapshots\n", len(ids))
			return nil
		},
	}
}
