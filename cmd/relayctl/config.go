package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"relaybox.app/relay/common/logger"
	"relaybox.app/relay/internal/client"
)

type cliConfig struct {
	BaseURL      string        `env:"RELAYCTL_BASE_URL" envDefault:"http://localhost:8080"`
	SessionKey   string        `env:"RELAYCTL_SESSION_KEY"`
	UserID       string        `env:"RELAYCTL_USER_ID"`
	Module       string        `env:"RELAYCTL_MODULE"`
	Mode         string        `env:"RELAYCTL_MODE" envDefault:"pull"`
	Timeout      time.Duration `env:"RELAYCTL_TIMEOUT" envDefault:"10s"`
	PollInterval time.Duration `env:"RELAYCTL_POLL_INTERVAL" envDefault:"1s"`
	Debug        bool          `env:"RELAYCTL_DEBUG"`
}

// load reads the environment first; flags given on the command line win.
func (c *cliConfig) load(cmd *cobra.Command) error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"base-url": &c.BaseURL,
		"session":  &c.SessionKey,
		"mode":     &c.Mode,
	} {
		if flags.Changed(name) {
			v, _ := flags.GetString(name)
			*dst = v
		}
	}

	if c.Mode != "pull" && c.Mode != "push" {
		return fmt.Errorf("mode must be pull or push, got %q", c.Mode)
	}

	level := slog.LevelWarn
	if c.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(logger.NewTraceHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))))
	return nil
}

// sessionKey returns the configured key or mints a fresh one and tells the
// user so they can resume later.
func (c *cliConfig) sessionKey(cmd *cobra.Command) string {
	if c.SessionKey == "" {
		c.SessionKey = "cli-" + uuid.NewString()
		cmd.PrintErrf("session key: %s\n", c.SessionKey)
	}
	return c.SessionKey
}

func (c *cliConfig) client() (*client.Client, error) {
	return client.New(client.Config{BaseURL: c.BaseURL, Timeout: c.Timeout})
}
