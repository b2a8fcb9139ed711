package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/daemon"
)

func init() { //nolint: gochecknoinits
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable dev mode")

	rootCmd.AddCommand(startCmd)
}

var (
	configPath string // Path to the configuration directory

	cfg     config.Config
	err     error
	devMode bool

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the confsync daemon",
		PreRun: func(cmd *cobra.Command, args []string) {
			loadConfig(cmd, args)

			if devMode {
				cfg.DevMode = true
			}
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}

			return d.Start(context.Background())
		},
	}
)
