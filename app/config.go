package app

import (
	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/config"
)

func init() { //nolint: gochecknoinits
	configDumpCmd.Flags().BoolVar(&configAsJSON, "json", false, "Print JSON instead of TOML")

	configCmd.AddCommand(configDumpCmd)
	rootCmd.AddCommand(configCmd)
}

var (
	configAsJSON bool

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	configDumpCmd = &cobra.Command{
		Use:    "dump",
		Short:  "Print the effective configuration",
		PreRun: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dump := config.DumpConfig
			if configAsJSON {
				dump = config.DumpConfigJSON
			}

			s, err := dump(&cfg)
			if err != nil {
				return err
			}
			cmd.Println(s)

			return nil
		},
	}
)
