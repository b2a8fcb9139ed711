package registry

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/audit"
	"github.com/confsync/confsync/internal/db/controller/definition"
	"github.com/confsync/confsync/internal/db/controller/override"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/value"
)

// bootstrapActor is recorded on every history row a bootstrap writes.
const bootstrapActor = "system/bootstrap"

// BootstrapReport summarizes what a bootstrap created.
type BootstrapReport struct {
	Definitions int
	Values      int
}

type bootstrapSeed struct {
	key string
	def *models.SettingDefinition
	raw json.RawMessage
}

// Bootstrap applies a template to the store: its definitions are
// registered and its values land as system-scope overrides. Everything
// is validated first and written in one transaction under one history
// batch, so a bad template changes nothing. Keys already in the
// catalogue abort the bootstrap with ErrDuplicateDefinition.
func (r *Registry) Bootstrap(ctx context.Context, db *gorm.DB, tpl *models.Template) (*BootstrapReport, error) {
	var defs []Definition
	if err := json.Unmarshal(tpl.Definitions, &defs); err != nil {
		return nil, errors.Wrapf(err, "template %q definitions", tpl.Name)
	}

	var values map[string]json.RawMessage
	if len(tpl.Values) > 0 {
		if err := json.Unmarshal(tpl.Values, &values); err != nil {
			return nil, errors.Wrapf(err, "template %q values", tpl.Name)
		}
	}

	checked := make([]*models.SettingDefinition, 0, len(defs))
	byKey := make(map[string]*models.SettingDefinition, len(defs))
	for _, in := range defs {
		def, err := Check(in)
		if err != nil {
			return nil, errors.Wrapf(err, "template %q", tpl.Name)
		}
		if _, dup := byKey[def.Key]; dup || r.Has(def.Key) {
			return nil, errors.Wrap(ErrDuplicateDefinition, def.Key)
		}
		byKey[def.Key] = def
		checked = append(checked, def)
	}

	seeds := make([]bootstrapSeed, 0, len(values))
	for key, raw := range values {
		def, exists := byKey[key]
		if !exists {
			return nil, errors.Wrapf(ErrDefinitionNotFound, "template value %q", key)
		}
		v, err := value.FromJSON(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "template value %q", key)
		}
		if res := r.Validate(v, def); !res.OK {
			return nil, &ValidationError{Key: key, Rule: res.Rule, Detail: res.Detail}
		}
		seeds = append(seeds, bootstrapSeed{key: key, def: def, raw: raw})
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].key < seeds[j].key })

	batch := audit.NewBatchID()
	now := time.Now().UTC()
	auditLog := audit.New(db)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, def := range checked {
			rec := &models.ChangeRecord{
				Table:      models.TableDefinitions,
				Key:        def.Key,
				NewValue:   def.DefaultValue,
				ChangeType: models.ChangeTypeImport,
				Actor:      bootstrapActor,
				BatchID:    batch,
				Timestamp:  now,
			}
			err := auditLog.Record(tx, rec, func(tx *gorm.DB) (uint64, error) {
				created, err := definition.Create(tx, def)
				if err != nil {
					return 0, err
				}
				return created.ID, nil
			})
			if err != nil {
				return errors.Wrapf(err, "definition %q", def.Key)
			}
		}

		for _, seed := range seeds {
			rec := &models.ChangeRecord{
				Table:      models.TableOverrides,
				Key:        seed.key,
				NewValue:   datatypes.JSON(seed.raw),
				ChangeType: models.ChangeTypeImport,
				Actor:      bootstrapActor,
				BatchID:    batch,
				Timestamp:  now,
			}
			row := &models.Override{
				Key:     seed.key,
				Scope:   models.ScopeSystem,
				Value:   datatypes.JSON(seed.raw),
				Version: now.UnixMilli(),
				Actor:   bootstrapActor,
			}
			err := auditLog.Record(tx, rec, func(tx *gorm.DB) (uint64, error) {
				saved, _, err := override.Upsert(tx, row)
				if err != nil {
					return 0, err
				}
				return saved.ID, nil
			})
			if err != nil {
				return errors.Wrapf(err, "value %q", seed.key)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := r.Load(db.WithContext(ctx)); err != nil {
		return nil, err
	}

	return &BootstrapReport{Definitions: len(checked), Values: len(seeds)}, nil
}
