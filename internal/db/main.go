// Package db opens the configured database engine and migrates the schema.
package db

import (
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/db/dsn"
	"github.com/confsync/confsync/internal/db/models"
)

// Open connects to the database engine selected in the configuration.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.DB.GormEngine {
	case config.EngineSQLite:
		dialector = sqlite.Open(cfg.DB.Path)
	case config.EngineMySQL:
		dialector = gormmysql.Open(dsn.Create(cfg))
	case config.EnginePostgres:
		dialector = gormpostgres.Open(dsn.CreatePostgres(cfg))
	default:
		return nil, errors.Wrap(config.ErrUnknownGormEngine, cfg.DB.GormEngine)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	return db, nil
}

// Migrate creates or updates the engine's tables.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.SettingDefinition{},
		&models.Override{},
		&models.ChangeRecord{},
		&models.Template{},
		&models.QueueEntry{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	return nil
}
