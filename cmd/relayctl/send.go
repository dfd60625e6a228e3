package main

import (
	"strings"

	"github.com/spf13/cobra"

	"relaybox.app/relay/internal/client"
)

func newSendCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the confirmed record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.client()
			if err != nil {
				return err
			}
			msg, err := c.Send(cmd.Context(), client.SendRequest{
				SessionKey: cfg.sessionKey(cmd),
				Body:       strings.Join(args, " "),
				UserID:     cfg.UserID,
				Module:     cfg.Module,
			})
			if err != nil {
				return err
			}
			cmd.Printf("sent %s at %s\n", msg.ID, msg.CreatedAt.Local().Format("15:04:05"))
			return nil
		},
	}
}
