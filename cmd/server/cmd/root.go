package cmd

import (
	"fmt"
	"os"

	"github.com/Togather-Foundation/eventbook/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
)

const rootLong = `eventbook runs the event booking backend: user accounts, events with a
seat capacity, and bookings that move from pending to confirmed, refused or
canceled.

The server provides:
- A JSON REST API under /auth, /users, /events, /bookings and /audit
- Signed ticket links and PDF tickets for confirmed bookings
- An audit trail of every mutating request
- Public HTML pages listing upcoming events`

// newRootCommand builds the command tree. Running it without a subcommand
// starts the server.
func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	root := &cobra.Command{
		Use:           "eventbook",
		Short:         "Eventbook server - event booking backend",
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve.RunE(cmd, args)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (optional, env vars take precedence)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console) (default: json)")

	root.AddCommand(serve)
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newSeedCommand())
	root.AddCommand(newHealthcheckCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads env vars (and --config when set) and applies the logging
// flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return config.Config{}, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}
