// Package registry holds the canonical catalogue of setting definitions
// and validates values against their constraints.
package registry

import (
	"errors"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/controller/definition"
	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/value"
)

// Registry is the in-memory catalogue of setting definitions, backed by
// the definitions table. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[string]models.SettingDefinition
	loaded bool
}

// New returns an empty catalogue. Call Load to fill it from the store.
func New() *Registry {
	return &Registry{
		byKey: make(map[string]models.SettingDefinition),
	}
}

// Load replaces the catalogue with the definitions table's content.
func (r *Registry) Load(db *gorm.DB) error {
	defs, err := definition.GetAll(db)
	if err != nil {
		return err
	}

	byKey := make(map[string]models.SettingDefinition, len(defs))
	for _, def := range defs {
		byKey[def.Key] = def
	}

	r.mu.Lock()
	r.byKey = byKey
	r.loaded = true
	r.mu.Unlock()

	return nil
}

// Check validates a definition input without persisting it: the struct
// shape, the default value's type and the default against the definition's
// own constraints. It returns the storable model on success.
func Check(in Definition) (*models.SettingDefinition, error) {
	if verrs := (XValidator{}).Validate(in); len(verrs) > 0 {
		first := verrs[0]
		return nil, &ValidationError{Key: in.Key, Rule: first.Tag, Detail: "field " + first.FailedField}
	}

	def, err := in.ToModel()
	if err != nil {
		return nil, err
	}

	// the default must satisfy the definition's own constraints
	defaultValue, err := value.FromJSON(def.DefaultValue)
	if err != nil {
		return nil, err
	}
	constraints, err := ParseConstraints(def.Constraints)
	if err != nil {
		return nil, err
	}
	if res := checkConstraints(defaultValue, constraints); !res.OK {
		return nil, &ValidationError{Key: in.Key, Rule: res.Rule, Detail: "default value: " + res.Detail}
	}

	return def, nil
}

// Register validates and persists a new definition, then adds it to the
// catalogue. The key must be unused in every category.
func (r *Registry) Register(db *gorm.DB, in Definition) (*models.SettingDefinition, error) {
	def, err := Check(in)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	_, exists := r.byKey[def.Key]
	r.mu.RUnlock()
	if exists {
		return nil, ErrDuplicateDefinition
	}

	if _, err := definition.Create(db, def); err != nil {
		if errors.Is(err, definition.ErrDefinitionAlreadyExists) {
			return nil, ErrDuplicateDefinition
		}
		return nil, err
	}

	r.mu.Lock()
	r.byKey[def.Key] = *def
	r.mu.Unlock()

	return def, nil
}

// Get retrieves a definition by category and key.
func (r *Registry) Get(category, key string) (*models.SettingDefinition, error) {
	def, err := r.GetByKey(key)
	if err != nil {
		return nil, err
	}
	if def.Category != category {
		return nil, ErrDefinitionNotFound
	}

	return def, nil
}

// GetByKey retrieves a definition by key alone. The returned definition is
// a copy; mutating it does not touch the catalogue.
func (r *Registry) GetByKey(key string) (*models.SettingDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrNotLoaded
	}

	def, exists := r.byKey[key]
	if !exists {
		return nil, ErrDefinitionNotFound
	}

	return &def, nil
}

// Has reports whether a key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.byKey[key]
	return exists
}

// All returns every definition ordered by category, sort order and key.
func (r *Registry) All() []models.SettingDefinition {
	r.mu.RLock()
	defs := make([]models.SettingDefinition, 0, len(r.byKey))
	for _, def := range r.byKey {
		defs = append(defs, def)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Category != defs[j].Category {
			return defs[i].Category < defs[j].Category
		}
		if defs[i].SortOrder != defs[j].SortOrder {
			return defs[i].SortOrder < defs[j].SortOrder
		}
		return defs[i].Key < defs[j].Key
	})

	return defs
}

// Keys returns every registered key, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.byKey))
	for key := range r.byKey {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	sort.Strings(keys)

	return keys
}

// Validate checks a value against a definition: first the type tag, then
// the constraint rules. It always returns a structured result and never
// panics.
func (r *Registry) Validate(v value.Value, def *models.SettingDefinition) ValidationResult {
	if def == nil {
		return violated(RuleType, "definition is nil")
	}
	if v.Type() != def.DataType {
		return violated(RuleType, string(v.Type())+" is not "+string(def.DataType))
	}

	constraints, err := ParseConstraints(def.Constraints)
	if err != nil {
		return violated(RuleConstraints, "constraint set does not parse")
	}

	return checkConstraints(v, constraints)
}
