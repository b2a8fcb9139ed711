// Package definition provides CRUD operations for setting definitions.
package definition

import (
	"errors"

	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/models"
)

const (
	keyQueryPattern         = "key = ?"
	categoryKeyQueryPattern = "category = ? AND key = ?"
	categoryQueryPattern    = "category = ?"
	catalogueOrder          = "category, sort_order, key"
)

var (
	// ErrDefinitionNotFound is returned when a definition is not found.
	ErrDefinitionNotFound = errors.New("setting definition not found")
	// ErrDefinitionKeyEmpty is returned when a definition key is empty.
	ErrDefinitionKeyEmpty = errors.New("setting definition key cannot be empty")
	// ErrDefinitionCategoryEmpty is returned when a definition category is empty.
	ErrDefinitionCategoryEmpty = errors.New("setting definition category cannot be empty")
	// ErrDefinitionAlreadyExists is returned when the key is already registered.
	ErrDefinitionAlreadyExists = errors.New("setting definition already exists")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Get retrieves a definition by category and key.
func Get(db *gorm.DB, category, key string) (*models.SettingDefinition, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if category == "" {
		return nil, ErrDefinitionCategoryEmpty
	}
	if key == "" {
		return nil, ErrDefinitionKeyEmpty
	}

	var def models.SettingDefinition
	result := db.Where(categoryKeyQueryPattern, category, key).First(&def)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDefinitionNotFound
		}
		return nil, result.Error
	}

	return &def, nil
}

// GetByKey retrieves a definition by key alone. Keys are unique across
// categories.
func GetByKey(db *gorm.DB, key string) (*models.SettingDefinition, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if key == "" {
		return nil, ErrDefinitionKeyEmpty
	}

	var def models.SettingDefinition
	result := db.Where(keyQueryPattern, key).First(&def)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDefinitionNotFound
		}
		return nil, result.Error
	}

	return &def, nil
}

// GetByID retrieves a definition by its ID.
func GetByID(db *gorm.DB, id uint64) (*models.SettingDefinition, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var def models.SettingDefinition
	result := db.First(&def, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDefinitionNotFound
		}
		return nil, result.Error
	}

	return &def, nil
}

// GetAll retrieves all definitions ordered by category and sort order.
func GetAll(db *gorm.DB) ([]models.SettingDefinition, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var defs []models.SettingDefinition
	result := db.Order(catalogueOrder).Find(&defs)
	if result.Error != nil {
		return nil, result.Error
	}

	return defs, nil
}

// GetByCategory retrieves all definitions in one category ordered by sort order.
func GetByCategory(db *gorm.DB, category string) ([]models.SettingDefinition, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if category == "" {
		return nil, ErrDefinitionCategoryEmpty
	}

	var defs []models.SettingDefinition
	result := db.Where(categoryQueryPattern, category).Order("sort_order, key").Find(&defs)
	if result.Error != nil {
		return nil, result.Error
	}

	return defs, nil
}

// Create creates a new definition. The key must be unused in every
// category.
func Create(db *gorm.DB, def *models.SettingDefinition) (*models.SettingDefinition, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if def.Category == "" {
		return nil, ErrDefinitionCategoryEmpty
	}
	if def.Key == "" {
		return nil, ErrDefinitionKeyEmpty
	}

	// Check if the key is already registered
	var existing models.SettingDefinition
	result := db.Where(keyQueryPattern, def.Key).First(&existing)
	if result.Error == nil {
		return nil, ErrDefinitionAlreadyExists
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, result.Error
	}

	result = db.Create(def)
	if result.Error != nil {
		return nil, result.Error
	}

	return def, nil
}

// Update updates an existing definition by ID.
func Update(db *gorm.DB, def *models.SettingDefinition) (*models.SettingDefinition, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if def.Key == "" {
		return nil, ErrDefinitionKeyEmpty
	}

	var existing models.SettingDefinition
	result := db.First(&existing, def.ID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDefinitionNotFound
		}
		return nil, result.Error
	}

	result = db.Save(def)
	if result.Error != nil {
		return nil, result.Error
	}

	return def, nil
}

// Delete deletes a definition by ID. Definitions are only removed by
// explicit migrations.
func Delete(db *gorm.DB, id uint64) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Delete(&models.SettingDefinition{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDefinitionNotFound
	}

	return nil
}

// Count returns the number of registered definitions.
func Count(db *gorm.DB) (int64, error) {
	if db == nil {
		return 0, ErrDBNil
	}

	var count int64
	result := db.Model(&models.SettingDefinition{}).Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}

	return count, nil
}
