package daemon

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/controller/template"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/value"
)

// defaultTemplateName is the template an empty catalogue is seeded from.
const defaultTemplateName = "default"

// seed bootstraps an empty catalogue from the default template. A node
// that already carries definitions is left alone.
func seed(ctx context.Context, db *gorm.DB, reg *registry.Registry) error {
	if len(reg.Keys()) > 0 {
		return nil
	}

	tpl, err := template.Get(db, defaultTemplateName)
	if errors.Is(err, template.ErrTemplateNotFound) {
		tpl, err = defaultTemplate()
		if err != nil {
			return err
		}
		tpl, err = template.Create(db, tpl)
	}
	if err != nil {
		return errors.Wrap(err, "seed template")
	}

	report, err := reg.Bootstrap(ctx, db, tpl)
	if err != nil {
		return errors.Wrap(err, "seed bootstrap")
	}

	log.Info().
		Str("template", tpl.Name).
		Int("definitions", report.Definitions).
		Int("values", report.Values).
		Msg("seeded empty catalogue")

	return nil
}

// defaultTemplate carries the built-in catalogue: parking tariffs,
// appearance preferences and backup controls.
func defaultTemplate() (*models.Template, error) {
	minZero := 0.0
	minHour := 1.0
	maxWeek := 168.0

	defs := []registry.Definition{
		{
			Category:     "parking",
			Key:          "parking.rates.trailer",
			DataType:     value.TypeNumber,
			DefaultValue: json.RawMessage(`225`),
			Constraints:  &registry.Constraints{Min: &minZero},
			Scope:        models.ScopeLocation,
			SortOrder:    1,
			Description:  "Tariff per stay for trailers.",
		},
		{
			Category:     "parking",
			Key:          "parking.rates.six_wheeler",
			DataType:     value.TypeNumber,
			DefaultValue: json.RawMessage(`150`),
			Constraints:  &registry.Constraints{Min: &minZero},
			Scope:        models.ScopeLocation,
			SortOrder:    2,
			Description:  "Tariff per stay for six wheelers.",
		},
		{
			Category:     "parking",
			Key:          "parking.rates.four_wheeler",
			DataType:     value.TypeNumber,
			DefaultValue: json.RawMessage(`100`),
			Constraints:  &registry.Constraints{Min: &minZero},
			Scope:        models.ScopeLocation,
			SortOrder:    3,
			Description:  "Tariff per stay for four wheelers.",
		},
		{
			Category:     "parking",
			Key:          "parking.rates.two_wheeler",
			DataType:     value.TypeNumber,
			DefaultValue: json.RawMessage(`50`),
			Constraints:  &registry.Constraints{Min: &minZero},
			Scope:        models.ScopeLocation,
			SortOrder:    4,
			Description:  "Tariff per stay for two wheelers.",
		},
		{
			Category:        "parking",
			Key:             "parking.currency",
			DataType:        value.TypeString,
			DefaultValue:    json.RawMessage(`"INR"`),
			Scope:           models.ScopeSystem,
			IsSystemSetting: true,
			SortOrder:       5,
			Description:     "Currency code printed on receipts.",
		},
		{
			Category:     "appearance",
			Key:          "appearance.theme_mode",
			DataType:     value.TypeString,
			DefaultValue: json.RawMessage(`"light"`),
			Constraints: &registry.Constraints{
				Enum: []interface{}{"light", "dark", "system"},
			},
			Scope:       models.ScopeUser,
			SortOrder:   1,
			Description: "Color theme for the operator console.",
		},
		{
			Category:     "appearance",
			Key:          "appearance.dashboard_layout",
			DataType:     value.TypeObject,
			DefaultValue: json.RawMessage(`{}`),
			Scope:        models.ScopeUser,
			SortOrder:    2,
			Description:  "Saved widget arrangement for the dashboard.",
		},
		{
			Category:        "backup",
			Key:             "backup.auto_enabled",
			DataType:        value.TypeBool,
			DefaultValue:    json.RawMessage(`false`),
			Scope:           models.ScopeSystem,
			IsSystemSetting: true,
			SortOrder:       1,
			Description:     "Run scheduled store backups.",
		},
		{
			Category:        "backup",
			Key:             "backup.interval_hours",
			DataType:        value.TypeNumber,
			DefaultValue:    json.RawMessage(`24`),
			Constraints:     &registry.Constraints{Min: &minHour, Max: &maxWeek},
			Scope:           models.ScopeSystem,
			IsSystemSetting: true,
			SortOrder:       2,
			Description:     "Hours between scheduled backups.",
		},
	}

	raw, err := json.Marshal(defs)
	if err != nil {
		return nil, errors.Wrap(err, "encode default template")
	}

	return &models.Template{
		Name:        defaultTemplateName,
		Description: "Built-in catalogue for a fresh node.",
		Definitions: datatypes.JSON(raw),
	}, nil
}
