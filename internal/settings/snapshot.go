package settings

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
	"github.com/confsync/confsync/internal/db/controller/template"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/feed"
	"github.com/confsync/confsync/internal/offline"
	"github.com/confsync/confsync/internal/registry"
	"github.com/confsync/confsync/internal/value"
)

// BundleVersion is the snapshot document format this build reads and
// writes.
const BundleVersion = 1

// Bundle is the portable snapshot document.
type Bundle struct {
	Version    int              `json:"version"`
	Settings   []BundleSetting  `json:"settings"`
	Templates  []BundleTemplate `json:"templates,omitempty"`
	ExportedAt time.Time        `json:"exported_at"`
	ExportedBy string           `json:"exported_by"`
}

// BundleSetting pairs one definition with its overrides.
type BundleSetting struct {
	Definition registry.Definition `json:"definition"`
	Overrides  []BundleOverride    `json:"overrides,omitempty"`
}

// BundleOverride is one override entry inside a bundle.
type BundleOverride struct {
	Scope             models.Scope    `json:"scope"`
	ScopeEntityID     string          `json:"scope_entity_id,omitempty"`
	Value             json.RawMessage `json:"value"`
	EffectiveFrom     *time.Time      `json:"effective_from,omitempty"`
	EffectiveUntil    *time.Time      `json:"effective_until,omitempty"`
	InheritFromSystem *bool           `json:"inherit_from_system,omitempty"`
}

// BundleTemplate is one stored template inside a bundle.
type BundleTemplate struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Definitions json.RawMessage `json:"definitions"`
	Values      json.RawMessage `json:"values,omitempty"`
}

// ExportFilter narrows an export. Zero fields export everything.
type ExportFilter struct {
	Categories []string
	Keys       []string
}

func (f ExportFilter) match(def models.SettingDefinition) bool {
	if len(f.Categories) > 0 && !containsString(f.Categories, def.Category) {
		return false
	}
	if len(f.Keys) > 0 && !containsString(f.Keys, def.Key) {
		return false
	}

	return true
}

func containsString(list []string, s string) bool {
	for _, entry := range list {
		if entry == s {
			return true
		}
	}

	return false
}

// ExportSnapshot captures definitions, overrides and templates into a
// portable bundle. Importing the bundle into an empty installation
// reproduces the same resolved values.
func (s *Service) ExportSnapshot(ctx context.Context, filter ExportFilter, exportedBy string) (*Bundle, error) {
	defs := s.reg.All()

	rows, err := override.GetAll(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	byKey := make(map[string][]models.Override, len(rows))
	for _, row := range rows {
		byKey[row.Key] = append(byKey[row.Key], row)
	}

	bundle := &Bundle{
		Version:    BundleVersion,
		ExportedAt: s.now().UTC(),
		ExportedBy: exportedBy,
	}

	for i := range defs {
		if !filter.match(defs[i]) {
			continue
		}

		d, err := registry.FromModel(&defs[i])
		if err != nil {
			return nil, errors.Wrapf(err, "definition %q", defs[i].Key)
		}

		bs := BundleSetting{Definition: d}
		for _, row := range byKey[defs[i].Key] {
			bs.Overrides = append(bs.Overrides, BundleOverride{
				Scope:             row.Scope,
				ScopeEntityID:     row.ScopeEntityID,
				Value:             json.RawMessage(row.Value),
				EffectiveFrom:     row.EffectiveFrom,
				EffectiveUntil:    row.EffectiveUntil,
				InheritFromSystem: row.InheritFromSystem,
			})
		}

		bundle.Settings = append(bundle.Settings, bs)
	}

	tpls, err := template.GetAll(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	for _, tpl := range tpls {
		bundle.Templates = append(bundle.Templates, BundleTemplate{
			Name:        tpl.Name,
			Description: tpl.Description,
			Definitions: json.RawMessage(tpl.Definitions),
			Values:      json.RawMessage(tpl.Values),
		})
	}

	return bundle, nil
}

// ImportOptions control how a bundle lands.
type ImportOptions struct {
	// OverwriteExisting replaces definitions and overrides that already
	// exist. Without it existing entries are kept and counted as skipped.
	OverwriteExisting bool
	// ValidateOnly runs every check and reports what would change without
	// touching the store.
	ValidateOnly bool
	// IgnoreSystemSettings leaves engine-owned definitions and their
	// overrides untouched.
	IgnoreSystemSettings bool
	// Actor is recorded on every audit record the import writes.
	Actor string
}

// ImportReport summarizes what an import did, or with ValidateOnly, what
// it would do.
type ImportReport struct {
	Definitions int
	Overrides   int
	Templates   int
	Skipped     int
}

type defPlan struct {
	model    *models.SettingDefinition
	existing *models.SettingDefinition
}

type overridePlan struct {
	category string
	bo       BundleOverride
	val      value.Value
	current  *models.Override
}

// ImportSnapshot applies a bundle as one unit: every entry is validated
// before anything is written, and all writes share one transaction and one
// batch id. A failed import changes nothing.
func (s *Service) ImportSnapshot(ctx context.Context, bundle *Bundle, opts ImportOptions) (*ImportReport, error) {
	if bundle == nil || bundle.Version != BundleVersion {
		return nil, ErrBundleVersion
	}

	// Mutations on the bundle's keys are serialized for the whole import.
	// Sorted acquisition keeps concurrent imports deadlock free.
	keys := make([]string, 0, len(bundle.Settings))
	seen := make(map[string]struct{}, len(bundle.Settings))
	for _, bs := range bundle.Settings {
		if _, dup := seen[bs.Definition.Key]; dup {
			continue
		}
		seen[bs.Definition.Key] = struct{}{}
		keys = append(keys, bs.Definition.Key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		unlock := s.locks.lock(key)
		defer unlock()
	}

	report := &ImportReport{}
	defPlans := make([]defPlan, 0, len(bundle.Settings))
	overridePlans := make(map[string][]overridePlan, len(bundle.Settings))

	for _, bs := range bundle.Settings {
		if opts.IgnoreSystemSettings && bs.Definition.IsSystemSetting {
			report.Skipped += 1 + len(bs.Overrides)
			continue
		}

		model, err := registry.Check(bs.Definition)
		if err != nil {
			return nil, errors.Wrapf(err, "definition %q", bs.Definition.Key)
		}

		existing, err := s.reg.GetByKey(model.Key)
		if err != nil && !errors.Is(err, registry.ErrDefinitionNotFound) {
			return nil, err
		}

		// the definition values are checked against is the one that will
		// be in effect after the import
		effective := model
		switch {
		case existing == nil:
			defPlans = append(defPlans, defPlan{model: model})
		case opts.OverwriteExisting:
			defPlans = append(defPlans, defPlan{model: model, existing: existing})
		default:
			effective = existing
			report.Skipped++
		}

		for _, bo := range bs.Overrides {
			plan, err := s.planOverride(ctx, effective, bo, opts)
			if err != nil {
				return nil, err
			}
			if plan == nil {
				report.Skipped++
				continue
			}
			overridePlans[model.Key] = append(overridePlans[model.Key], *plan)
		}
	}

	if opts.ValidateOnly {
		report.Definitions = len(defPlans)
		for _, plans := range overridePlans {
			report.Overrides += len(plans)
		}
		report.Templates = len(bundle.Templates)
		return report, nil
	}

	batch := audit.NewBatchID()
	now := s.now().UTC()
	announcements := make([]feed.SyncMessage, 0)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, plan := range defPlans {
			if err := s.importDefinition(tx, plan, opts.Actor, batch, now); err != nil {
				return err
			}
			report.Definitions++
		}

		for _, key := range keys {
			for _, plan := range overridePlans[key] {
				msg, err := s.importOverride(tx, key, plan, opts.Actor, batch, now)
				if err != nil {
					return err
				}
				report.Overrides++
				announcements = append(announcements, msg)
			}
		}

		for _, bt := range bundle.Templates {
			tpl := &models.Template{
				Name:        bt.Name,
				Description: bt.Description,
				Definitions: datatypes.JSON(bt.Definitions),
				Values:      datatypes.JSON(bt.Values),
			}
			if _, err := template.Set(tx, tpl); err != nil {
				return errors.Wrapf(err, "template %q", bt.Name)
			}
			report.Templates++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// the catalogue and cache reflect the pre-import state, replace them
	// wholesale
	if err := s.reg.Load(s.db.WithContext(ctx)); err != nil {
		return nil, err
	}
	s.cache.Clear()

	for _, msg := range announcements {
		op := opForMessage(msg, opts.Actor)
		if _, err := s.announce(ctx, msg, op); err != nil {
			return report, err
		}
	}

	return report, nil
}

// planOverride validates one bundle override and decides whether it will
// be written. A nil plan with nil error means the entry is skipped.
func (s *Service) planOverride(ctx context.Context, def *models.SettingDefinition, bo BundleOverride, opts ImportOptions) (*overridePlan, error) {
	if !bo.Scope.Valid() {
		return nil, errors.Wrapf(override.ErrScopeInvalid, "override for %q", def.Key)
	}
	if bo.Scope == models.ScopeSystem && bo.ScopeEntityID != "" {
		return nil, errors.Wrapf(override.ErrScopeEntityForbidden, "override for %q", def.Key)
	}
	if bo.Scope != models.ScopeSystem && bo.ScopeEntityID == "" {
		return nil, errors.Wrapf(override.ErrScopeEntityEmpty, "override for %q", def.Key)
	}
	if bo.InheritFromSystem != nil && bo.Scope != models.ScopeLocation {
		return nil, errors.Wrapf(ErrInheritFlagScope, "override for %q", def.Key)
	}
	if err := checkWritable(def, bo.Scope); err != nil {
		return nil, err
	}

	v, err := value.FromJSON(bo.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "override for %q", def.Key)
	}
	if res := s.reg.Validate(v, def); !res.OK {
		return nil, &registry.ValidationError{Key: def.Key, Rule: res.Rule, Detail: res.Detail}
	}

	current, err := override.Get(s.db.WithContext(ctx), def.Key, bo.Scope, bo.ScopeEntityID)
	if err != nil && !errors.Is(err, override.ErrOverrideNotFound) {
		return nil, err
	}
	if current != nil && !opts.OverwriteExisting {
		return nil, nil
	}

	return &overridePlan{category: def.Category, bo: bo, val: v, current: current}, nil
}

func (s *Service) importDefinition(tx *gorm.DB, plan defPlan, actor, batch string, now time.Time) error {
	rec := &models.ChangeRecord{
		Table:      models.TableDefinitions,
		Key:        plan.model.Key,
		NewValue:   plan.model.DefaultValue,
		ChangeType: models.ChangeTypeImport,
		Actor:      actor,
		BatchID:    batch,
		Timestamp:  now,
	}

	apply := func(tx *gorm.DB) (uint64, error) {
		created, err := definition.Create(tx, plan.model)
		if err != nil {
			return 0, err
		}
		return created.ID, nil
	}

	if plan.existing != nil {
		plan.model.ID = plan.existing.ID
		plan.model.CreatedAt = plan.existing.CreatedAt
		rec.EntityID = plan.existing.ID
		rec.OldValue = plan.existing.DefaultValue
		apply = func(tx *gorm.DB) (uint64, error) {
			updated, err := definition.Update(tx, plan.model)
			if err != nil {
				return 0, err
			}
			return updated.ID, nil
		}
	}

	if err := s.audit.Record(tx, rec, apply); err != nil {
		return errors.Wrapf(err, "definition %q", plan.model.Key)
	}

	return nil
}

func (s *Service) importOverride(tx *gorm.DB, key string, plan overridePlan, actor, batch string, now time.Time) (feed.SyncMessage, error) {
	raw, err := plan.val.JSON()
	if err != nil {
		return feed.SyncMessage{}, err
	}

	changeType := models.ChangeTypeImport
	var oldValue datatypes.JSON
	var currentVersion int64
	if plan.current != nil {
		oldValue = plan.current.Value
		currentVersion = plan.current.Version
	}

	version := s.nextVersion(currentVersion)

	rec := &models.ChangeRecord{
		Table:      models.TableOverrides,
		Key:        key,
		OldValue:   oldValue,
		NewValue:   datatypes.JSON(raw),
		ChangeType: changeType,
		Actor:      actor,
		BatchID:    batch,
		Timestamp:  now,
	}

	row := &models.Override{
		Key:               key,
		Scope:             plan.bo.Scope,
		ScopeEntityID:     plan.bo.ScopeEntityID,
		Value:             datatypes.JSON(raw),
		Version:           version,
		Actor:             actor,
		EffectiveFrom:     plan.bo.EffectiveFrom,
		EffectiveUntil:    plan.bo.EffectiveUntil,
		InheritFromSystem: plan.bo.InheritFromSystem,
	}

	err = s.audit.Record(tx, rec, func(tx *gorm.DB) (uint64, error) {
		saved, _, err := override.Upsert(tx, row)
		if err != nil {
			return 0, err
		}
		return saved.ID, nil
	})
	if err != nil {
		return feed.SyncMessage{}, errors.Wrapf(err, "override for %q", key)
	}

	return feed.SyncMessage{
		Category:          plan.category,
		Key:               key,
		Scope:             plan.bo.Scope,
		ScopeEntityID:     plan.bo.ScopeEntityID,
		Value:             raw,
		Version:           version,
		OriginClientID:    s.clientID,
		BatchID:           batch,
		EffectiveFrom:     plan.bo.EffectiveFrom,
		EffectiveUntil:    plan.bo.EffectiveUntil,
		InheritFromSystem: plan.bo.InheritFromSystem,
	}, nil
}

// opForMessage rebuilds the offline queue op for an announcement that
// could not be published.
func opForMessage(msg feed.SyncMessage, actor string) offline.Op {
	op := offline.Op{
		Op:    models.QueueOpSet,
		Key:   msg.Key,
		Actor: actor,
	}
	if msg.Deleted {
		op.Op = models.QueueOpUnset
	} else if v, err := value.FromJSON(msg.Value); err == nil {
		op.Value = v
	}

	switch msg.Scope {
	case models.ScopeUser:
		op.UserID = msg.ScopeEntityID
	case models.ScopeLocation:
		op.LocationID = msg.ScopeEntityID
	}

	return op
}
