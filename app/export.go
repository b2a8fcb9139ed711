package app

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/daemon"
	"github.com/confsync/confsync/internal/settings"
)

func init() { //nolint: gochecknoinits
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Write the bundle to this file instead of stdout")
	exportCmd.Flags().StringSliceVar(&exportCategories, "category", nil, "Export only these categories (repeatable)")
	exportCmd.Flags().StringSliceVar(&exportKeys, "key", nil, "Export only these keys (repeatable)")
	exportCmd.Flags().StringVar(&exportActor, "actor", "cli", "Name recorded as the bundle's exporter")

	snapshotCmd.AddCommand(exportCmd)
}

var (
	exportOut        string
	exportCategories []string
	exportKeys       []string
	exportActor      string

	exportCmd = &cobra.Command{
		Use:    "export",
		Short:  "Write the catalogue, overrides and templates as a snapshot bundle",
		PreRun: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}
			defer shutdown(d)

			filter := settings.ExportFilter{
				Categories: exportCategories,
				Keys:       exportKeys,
			}
			bundle, err := d.Service().ExportSnapshot(cmd.Context(), filter, exportActor)
			if err != nil {
				return err
			}

			raw, err := json.MarshalIndent(bundle, "", "  ")
			if err != nil {
				return errors.Wrap(err, "encode bundle")
			}
			raw = append(raw, '\n')

			if exportOut == "" {
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			}

			return os.WriteFile(exportOut, raw, 0o600)
		},
	}
)
