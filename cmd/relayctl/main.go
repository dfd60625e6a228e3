package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var cfg cliConfig

	cmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Talk to a relay session from the terminal",
		Example:       "RELAYCTL_SESSION_KEY=demo-session relayctl chat",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cfg.load(cmd)
		},
	}

	cmd.PersistentFlags().String("base-url", "", "relay base URL (RELAYCTL_BASE_URL)")
	cmd.PersistentFlags().String("session", "", "session key (RELAYCTL_SESSION_KEY)")
	cmd.PersistentFlags().String("mode", "", "delivery mode: pull or push (RELAYCTL_MODE)")

	cmd.AddCommand(
		newSendCommand(&cfg),
		newWatchCommand(&cfg),
		newChatCommand(&cfg),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
