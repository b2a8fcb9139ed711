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
	importCmd.Flags().StringVar(&importIn, "in", "", "Bundle file to import")
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "Replace definitions and overrides that already exist")
	importCmd.Flags().BoolVar(&importValidateOnly, "validate-only", false, "Run every check without writing anything")
	importCmd.Flags().BoolVar(&importIgnoreSystem, "ignore-system", false, "Leave engine-owned settings untouched")
	importCmd.Flags().StringVar(&importActor, "actor", "cli", "Name recorded on the import's audit records")
	_ = importCmd.MarkFlagRequired("in")

	snapshotCmd.AddCommand(importCmd)
}

var (
	importIn           string
	importOverwrite    bool
	importValidateOnly bool
	importIgnoreSystem bool
	importActor        string

	importCmd = &cobra.Command{
		Use:    "import",
		Short:  "Apply a snapshot bundle to this node",
		PreRun: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(importIn)
			if err != nil {
				return errors.Wrap(err, "read bundle")
			}

			var bundle settings.Bundle
			if err := json.Unmarshal(raw, &bundle); err != nil {
				return errors.Wrap(err, "decode bundle")
			}

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}
			defer shutdown(d)

			report, err := d.Service().ImportSnapshot(cmd.Context(), &bundle, settings.ImportOptions{
				OverwriteExisting:    importOverwrite,
				ValidateOnly:         importValidateOnly,
				IgnoreSystemSettings: importIgnoreSystem,
				Actor:                importActor,
			})
			if err != nil {
				return err
			}

			verb := "imported"
			if importValidateOnly {
				verb = "validated"
			}
			cmd.Printf("%s %d definitions, %d overrides, %d templates (%d skipped)\n",
				verb, report.Definitions, report.Overrides, report.Templates, report.Skipped)

			return nil
		},
	}
)
