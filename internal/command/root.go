package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "inbox"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "inbox - multi-channel customer conversation console",
		Long:          "inbox keeps a live view of customer conversations from a hosted messaging API and lets operators reply from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "config file (default ~/.config/inbox/config.toml)")
	cmd.PersistentFlags().String("log-level", "", "override [log] level")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewWatchCmd(),
		NewTailCmd(),
		NewSendCmd(),
		NewListCmd(),
		NewLoginCmd(),
		NewCacheCmd(),
		NewVersionCmd(version),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}
