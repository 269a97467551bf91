package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamavenir/inbox/internal/hostedsync"
)

var errNotLoggedIn = errors.New("no API url configured")

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	switch {
	case errors.Is(err, errNotLoggedIn):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: run `inbox login --url <api-url> --token <token>` or set INBOX_API_URL.")
	case isAuthError(err):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: the token was rejected. Run `inbox login` again.")
	case isSchemaError(err):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: the snapshot cache looks stale. Try: inbox cache clear")
	}

	return err
}

func isAuthError(err error) bool {
	var apiErr *hostedsync.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == 401 || apiErr.Status == 403
}

// isSchemaError checks if an error is a SQLite schema mismatch.
func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "has no column")
}
