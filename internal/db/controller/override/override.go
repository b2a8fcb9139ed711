// Package override provides CRUD operations for scoped setting overrides.
package override

import (
	"errors"

	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/models"
)

const (
	tupleQueryPattern = "key = ? AND scope = ? AND scope_entity_id = ?"
	keyQueryPattern   = "key = ?"
	scopeQueryPattern = "scope = ? AND scope_entity_id = ?"
	keysInScopeQuery  = "key IN ? AND scope = ? AND scope_entity_id = ?"
	exportOrder       = "key, scope, scope_entity_id"
)

var (
	// ErrOverrideNotFound is returned when an override is not found.
	ErrOverrideNotFound = errors.New("override not found")
	// ErrOverrideKeyEmpty is returned when an override key is empty.
	ErrOverrideKeyEmpty = errors.New("override key cannot be empty")
	// ErrScopeInvalid is returned when the scope is not system, location or user.
	ErrScopeInvalid = errors.New("override scope is invalid")
	// ErrScopeEntityEmpty is returned when a location or user override has no entity id.
	ErrScopeEntityEmpty = errors.New("override scope entity id cannot be empty")
	// ErrScopeEntityForbidden is returned when a system override carries an entity id.
	ErrScopeEntityForbidden = errors.New("system override cannot carry a scope entity id")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// checkTuple validates the (key, scope, scope entity) addressing of an override.
func checkTuple(key string, scope models.Scope, scopeEntityID string) error {
	if key == "" {
		return ErrOverrideKeyEmpty
	}
	if !scope.Valid() {
		return ErrScopeInvalid
	}
	if scope == models.ScopeSystem && scopeEntityID != "" {
		return ErrScopeEntityForbidden
	}
	if scope != models.ScopeSystem && scopeEntityID == "" {
		return ErrScopeEntityEmpty
	}

	return nil
}

// Get retrieves the override for one (key, scope, scope entity) tuple.
func Get(db *gorm.DB, key string, scope models.Scope, scopeEntityID string) (*models.Override, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if err := checkTuple(key, scope, scopeEntityID); err != nil {
		return nil, err
	}

	var o models.Override
	result := db.Where(tupleQueryPattern, key, scope, scopeEntityID).First(&o)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrOverrideNotFound
		}
		return nil, result.Error
	}

	return &o, nil
}

// GetForKey retrieves every override of one key across all scopes.
func GetForKey(db *gorm.DB, key string) ([]models.Override, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if key == "" {
		return nil, ErrOverrideKeyEmpty
	}

	var overrides []models.Override
	result := db.Where(keyQueryPattern, key).Find(&overrides)
	if result.Error != nil {
		return nil, result.Error
	}

	return overrides, nil
}

// GetForKeys retrieves the overrides of many keys on one scope layer in a
// single query.
func GetForKeys(db *gorm.DB, keys []string, scope models.Scope, scopeEntityID string) ([]models.Override, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if len(keys) == 0 {
		return nil, nil
	}
	if err := checkTuple(keys[0], scope, scopeEntityID); err != nil {
		return nil, err
	}

	var overrides []models.Override
	result := db.Where(keysInScopeQuery, keys, scope, scopeEntityID).Find(&overrides)
	if result.Error != nil {
		return nil, result.Error
	}

	return overrides, nil
}

// GetByScope retrieves every override on one scope layer.
func GetByScope(db *gorm.DB, scope models.Scope, scopeEntityID string) ([]models.Override, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if !scope.Valid() {
		return nil, ErrScopeInvalid
	}

	var overrides []models.Override
	result := db.Where(scopeQueryPattern, scope, scopeEntityID).Find(&overrides)
	if result.Error != nil {
		return nil, result.Error
	}

	return overrides, nil
}

// GetAll retrieves all overrides ordered for stable export.
func GetAll(db *gorm.DB) ([]models.Override, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var overrides []models.Override
	result := db.Order(exportOrder).Find(&overrides)
	if result.Error != nil {
		return nil, result.Error
	}

	return overrides, nil
}

// Upsert writes the override for its (key, scope, scope entity) tuple,
// creating the row when absent. It reports whether a row was created.
func Upsert(db *gorm.DB, o *models.Override) (*models.Override, bool, error) {
	if db == nil {
		return nil, false, ErrDBNil
	}
	if err := checkTuple(o.Key, o.Scope, o.ScopeEntityID); err != nil {
		return nil, false, err
	}

	var existing models.Override
	result := db.Where(tupleQueryPattern, o.Key, o.Scope, o.ScopeEntityID).First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		result = db.Create(o)
		if result.Error != nil {
			return nil, false, result.Error
		}
		return o, true, nil
	}
	if result.Error != nil {
		return nil, false, result.Error
	}

	existing.Value = o.Value
	existing.Version = o.Version
	existing.Actor = o.Actor
	existing.EffectiveFrom = o.EffectiveFrom
	existing.EffectiveUntil = o.EffectiveUntil
	existing.InheritFromSystem = o.InheritFromSystem

	result = db.Save(&existing)
	if result.Error != nil {
		return nil, false, result.Error
	}

	*o = existing

	return o, false, nil
}

// Delete removes the override for one (key, scope, scope entity) tuple.
func Delete(db *gorm.DB, key string, scope models.Scope, scopeEntityID string) error {
	if db == nil {
		return ErrDBNil
	}
	if err := checkTuple(key, scope, scopeEntityID); err != nil {
		return err
	}

	result := db.Where(tupleQueryPattern, key, scope, scopeEntityID).Delete(&models.Override{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOverrideNotFound
	}

	return nil
}

// DeleteByKey removes every override of one key. Used by import with
// overwrite semantics.
func DeleteByKey(db *gorm.DB, key string) error {
	if db == nil {
		return ErrDBNil
	}
	if key == "" {
		return ErrOverrideKeyEmpty
	}

	result := db.Where(keyQueryPattern, key).Delete(&models.Override{})
	if result.Error != nil {
		return result.Error
	}

	return nil
}
