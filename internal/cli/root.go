// Package cli implements teactl, the operator tool for backups, pending
// reservation documents and admin tokens.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iliyamo/event-seat-reservation/internal/bootstrap"
	"github.com/iliyamo/event-seat-reservation/internal/config"
	"github.com/iliyamo/event-seat-reservation/internal/remote"
)

// RootOptions holds global flags and what PersistentPreRunE loaded.
type RootOptions struct {
	EnvFile string

	Config config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the teactl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "teactl",
		Short: "Operate the event seat reservation store",
		Long: `teactl archives and restores the attendee store, submits pending
reservation documents to the remote folder, and mints admin tokens.

Configuration comes from the same environment variables as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.EnvFile)
			if err != nil {
				return err
			}
			logger, err := bootstrap.Logger(cfg)
			if err != nil {
				return err
			}
			opts.Config, opts.Logger = cfg, logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")

	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// remoteSync builds the configured remote client.  It fails when no
// backend is configured.
func (o *RootOptions) remoteSync(ctx context.Context) (*remote.Sync, func(), error) {
	s, cleanup, err := bootstrap.Remote(ctx, o.Config, nil, o.Logger)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		cleanup()
		return nil, nil, fmt.Errorf("REMOTE_BACKEND is %q; nothing to talk to", o.Config.Remote.Backend)
	}
	return s, cleanup, nil
}
