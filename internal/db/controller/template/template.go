// Package template provides CRUD operations for named setting bundles.
package template

import (
	"errors"

	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/models"
)

const (
	nameQueryPattern = "name = ?"
)

var (
	// ErrTemplateNotFound is returned when a template is not found.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrTemplateNameEmpty is returned when a template name is empty.
	ErrTemplateNameEmpty = errors.New("template name cannot be empty")
	// ErrTemplateAlreadyExists is returned when a template name is already taken.
	ErrTemplateAlreadyExists = errors.New("template already exists")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Get retrieves a template by its name.
func Get(db *gorm.DB, name string) (*models.Template, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if name == "" {
		return nil, ErrTemplateNameEmpty
	}

	var tpl models.Template
	result := db.Where(nameQueryPattern, name).First(&tpl)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, result.Error
	}

	return &tpl, nil
}

// GetAll retrieves all templates.
func GetAll(db *gorm.DB) ([]models.Template, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var tpls []models.Template
	result := db.Order("name").Find(&tpls)
	if result.Error != nil {
		return nil, result.Error
	}

	return tpls, nil
}

// Create creates a new template.
func Create(db *gorm.DB, tpl *models.Template) (*models.Template, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if tpl.Name == "" {
		return nil, ErrTemplateNameEmpty
	}

	// Check if template already exists
	var existing models.Template
	result := db.Where(nameQueryPattern, tpl.Name).First(&existing)
	if result.Error == nil {
		return nil, ErrTemplateAlreadyExists
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, result.Error
	}

	result = db.Create(tpl)
	if result.Error != nil {
		return nil, result.Error
	}

	return tpl, nil
}

// Set creates or updates a template by name (upsert operation).
func Set(db *gorm.DB, tpl *models.Template) (*models.Template, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if tpl.Name == "" {
		return nil, ErrTemplateNameEmpty
	}

	var existing models.Template
	result := db.Where(nameQueryPattern, tpl.Name).First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		// Template doesn't exist, create it
		return Create(db, tpl)
	}
	if result.Error != nil {
		return nil, result.Error
	}

	// Template exists, update it
	existing.Description = tpl.Description
	existing.Definitions = tpl.Definitions
	existing.Values = tpl.Values

	result = db.Save(&existing)
	if result.Error != nil {
		return nil, result.Error
	}

	*tpl = existing

	return tpl, nil
}

// Delete deletes a template by name.
func Delete(db *gorm.DB, name string) error {
	if db == nil {
		return ErrDBNil
	}
	if name == "" {
		return ErrTemplateNameEmpty
	}

	result := db.Where(nameQueryPattern, name).Delete(&models.Template{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTemplateNotFound
	}

	return nil
}
