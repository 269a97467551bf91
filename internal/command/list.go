package command

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adamavenir/inbox/internal/chat"
	"github.com/adamavenir/inbox/internal/types"
)

// NewListCmd prints the conversation list.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			match, _ := cmd.Flags().GetString("match")
			unreadOnly, _ := cmd.Flags().GetBool("unread")

			ctx, err := GetContext(cmd, "")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			filter, err := chat.NewFilter(match)
			if err != nil {
				return writeCommandError(cmd, fmt.Errorf("invalid --match pattern: %w", err))
			}
			client, err := ctx.Client()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			reqCtx, cancel := withTimeout(cmd, ctx.Config.API.Timeout.Duration)
			defer cancel()
			convs, err := client.FetchConversations(reqCtx)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			selected := make([]types.Conversation, 0, len(convs))
			for _, conv := range convs {
				if unreadOnly && conv.UnreadCount == 0 {
					continue
				}
				if filter.Match(conv) {
					selected = append(selected, conv)
				}
			}
			sortByActivity(selected)

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(selected)
			}
			if len(selected) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCHANNEL\tUNREAD\tOWNER\tLAST")
			for _, conv := range selected {
				last := "-"
				if conv.LastMessageAt != nil {
					last = chat.RelativeTime(*conv.LastMessageAt)
				}
				owner := conv.Owner
				if owner == "" {
					owner = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", conv.ID, conv.Name, conv.Channel.Label(), conv.UnreadCount, owner, last)
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("match", "", "glob matched against name, id and channel")
	cmd.Flags().Bool("unread", false, "only conversations with unread messages")
	return cmd
}

// sortByActivity puts the most recently active conversations first.
func sortByActivity(convs []types.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastMessageAt, convs[j].LastMessageAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
}
