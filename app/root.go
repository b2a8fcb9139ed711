// Package app implements the main application commands.
package app

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/daemon"
	"github.com/confsync/confsync/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "confsync",
	Short: "confsync keeps hierarchical settings in sync across nodes",
	Long: `confsync stores typed settings with system, location and user scopes,
resolves reads through the scope hierarchy, and replicates committed
writes to every connected node over a change feed.`,
	Args: cobra.OnlyValidArgs,
}

func init() { //nolint: gochecknoinits
	rootCmd.PersistentFlags().StringVar(
		&configPath,
		"config",
		"",
		"Directory holding main.toml (defaults to ./etc/)",
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and initializes logging. Commands run
// it as PreRun so the --config flag is already parsed.
func loadConfig(_ *cobra.Command, _ []string) {
	if cfg, err = config.ReadConfig(configPath); err != nil {
		panic(err)
	}

	if err = logger.Init(cfg.Log); err != nil {
		panic(err)
	}
}

// shutdown releases a daemon built for a one-shot command.
func shutdown(d *daemon.Daemon) {
	if err := d.Shutdown(); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
