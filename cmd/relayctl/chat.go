package main

import (
	"bufio"
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"relaybox.app/relay/internal/reconcile"
)

func newChatCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive session: lines from stdin are sent, replies are printed",
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

			go runDelivery(ctx, cfg, c, engine, "")
			go readInput(ctx, cmd, engine, stop)
			render(ctx, cmd, engine)
			return nil
		},
	}
}

// readInput never blocks rendering: each send runs on its own goroutine and
// the engine orders the results.
func readInput(ctx context.Context, cmd *cobra.Command, engine *reconcile.Engine, stop context.CancelFunc) {
	sc := bufio.NewScanner(cmd.InOrStdin())
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		go func() {
			if _, err := engine.Send(ctx, line); err != nil && ctx.Err() == nil {
				cmd.PrintErrf("! message not sent: %v\n", err)
			}
		}()
	}
	stop()
}
