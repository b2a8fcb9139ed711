package registry

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/value"
)

// Definition is the registration input for one catalogue entry. It is also
// the JSON shape definitions take inside templates and snapshot bundles.
type Definition struct {
	Category        string          `json:"category" validate:"required,max=100"`
	Key             string          `json:"key" validate:"required,max=255"`
	DataType        value.DataType  `json:"data_type" validate:"required,oneof=string number bool array object"`
	DefaultValue    json.RawMessage `json:"default_value" validate:"required"`
	Constraints     *Constraints    `json:"constraints,omitempty"`
	Scope           models.Scope    `json:"scope,omitempty" validate:"omitempty,oneof=system location user"`
	IsSystemSetting bool            `json:"is_system_setting,omitempty"`
	SortOrder       int             `json:"sort_order,omitempty"`
	Description     string          `json:"description,omitempty" validate:"max=512"`
}

// ToModel converts the input into a storable definition. The default value
// is decoded and checked against the declared data type.
func (d Definition) ToModel() (*models.SettingDefinition, error) {
	def, err := value.FromJSON(d.DefaultValue)
	if err != nil {
		return nil, err
	}
	if def.Type() != d.DataType {
		return nil, &ValidationError{Key: d.Key, Rule: RuleType, Detail: "default value does not match data type"}
	}

	scope := d.Scope
	if scope == "" {
		scope = models.ScopeUser
	}

	m := &models.SettingDefinition{
		Category:        d.Category,
		Key:             d.Key,
		DataType:        d.DataType,
		DefaultValue:    datatypes.JSON(d.DefaultValue),
		Scope:           scope,
		IsSystemSetting: d.IsSystemSetting,
		SortOrder:       d.SortOrder,
		Description:     d.Description,
	}

	if d.Constraints != nil {
		raw, err := json.Marshal(d.Constraints)
		if err != nil {
			return nil, &value.SerializationError{Op: value.OpEncode, Err: err}
		}
		m.Constraints = datatypes.JSON(raw)
	}

	return m, nil
}

// FromModel converts a stored definition back into the bundle shape used by
// exports and templates.
func FromModel(m *models.SettingDefinition) (Definition, error) {
	d := Definition{
		Category:        m.Category,
		Key:             m.Key,
		DataType:        m.DataType,
		DefaultValue:    json.RawMessage(m.DefaultValue),
		Scope:           m.Scope,
		IsSystemSetting: m.IsSystemSetting,
		SortOrder:       m.SortOrder,
		Description:     m.Description,
	}

	if len(m.Constraints) > 0 {
		c, err := ParseConstraints(m.Constraints)
		if err != nil {
			return Definition{}, err
		}
		d.Constraints = c
	}

	return d, nil
}
