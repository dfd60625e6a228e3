package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relaybox.app/relay/internal/client"
	"relaybox.app/relay/internal/reconcile"
)

func newWatchCommand(cfg *cliConfig) *cobra.Command {
	var lastID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print replies for the session as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := cfg.client()
			if err != nil {
				return err
			}
			engine := reconcile.NewEngine(reconcile.EngineConfig{
				SessionKey: cfg.sessionKey(cmd),
				UserID:     cfg.UserID,
				Module:     cfg.Module,
			}, c)
			defer engine.Close()

			go runDelivery(ctx, cfg, c, engine, lastID)
			render(ctx, cmd, engine)
			return nil
		},
	}

	cmd.Flags().StringVar(&lastID, "last-id", "", "resume the push stream after this message id")
	return cmd
}

// runDelivery feeds the engine with the strategy the server runs.
func runDelivery(ctx context.Context, cfg *cliConfig, c *client.Client, engine *reconcile.Engine, lastID string) {
	if cfg.Mode == "push" {
		_ = reconcile.NewStreamConsumer(c, engine, reconcile.StreamConfig{
			SessionKey: cfg.SessionKey,
			LastID:     lastID,
		}).Run(ctx)
		return
	}
	_ = reconcile.NewPoller(c, engine, reconcile.PollerConfig{
		SessionKey: cfg.SessionKey,
		Interval:   cfg.PollInterval,
	}).Run(ctx)
}

// render prints every entry once it leaves the pending state, plus banner
// changes, until ctx ends.
func render(ctx context.Context, cmd *cobra.Command, engine *reconcile.Engine) {
	printed := map[string]bool{}
	banner := ""

	for {
		select {
		case <-ctx.Done():
			return
		case <-engine.Updates():
		}

		snap, err := engine.Snapshot()
		if err != nil {
			return
		}
		if snap.Banner != banner {
			banner = snap.Banner
			if banner != "" {
				cmd.PrintErrln("! " + banner)
			} else {
				cmd.PrintErrln("reconnected")
			}
		}
		for _, e := range snap.Entries {
			if e.State == reconcile.StatePending || printed[e.ID] {
				continue
			}
			printed[e.ID] = true
			prefix := "<"
			if e.State == reconcile.StateConfirmed {
				prefix = ">"
			}
			cmd.Printf("%s %s\n", prefix, e.Body)
			for _, a := range e.Attachments {
				cmd.Printf("  [%s] %s\n", a.Name, a.URL)
			}
		}
	}
}
