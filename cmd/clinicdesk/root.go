package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phrazzld/clinicdesk/internal/config"
	"github.com/phrazzld/clinicdesk/internal/platform/logger"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
}

// load reads the configuration and sets up logging on the command's stderr.
// Commands that need no database skip it.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadWithFile(o.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Debug("configuration loaded",
		"driver", cfg.Database.Driver,
		"worker_count", cfg.Dispatcher.WorkerCount,
		"bridge_addr", cfg.Server.BridgeAddr)
	return cfg, log, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "clinicdesk",
		Short: "Clinic desk task core",
		Long: `Runs the clinic desk: a worker pool that executes database units of work
and publishes their results on typed channels, streamed to viewers over a
websocket bridge.

Configuration is read from an optional YAML file and CLINIC_* environment
variables, which take precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newChannelsCommand())

	return cmd
}
