package definition

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/value"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	// Migrate the schema
	err = db.AutoMigrate(&models.SettingDefinition{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

// seedDefinitions inserts test data into the database.
func seedDefinitions(t *testing.T, db *gorm.DB, defs []models.SettingDefinition) {
	t.Helper()
	for _, def := range defs {
		err := db.Create(&def).Error
		require.NoError(t, err, "failed to seed test data")
	}
}

func numberDef(category, key string, def float64) models.SettingDefinition {
	return models.SettingDefinition{
		Category:     category,
		Key:          key,
		DataType:     value.TypeNumber,
		DefaultValue: datatypes.JSON(value.Number(def).MustJSON()),
	}
}

func TestGet(t *testing.T) {
	db := setupTestDB(t)

	testCases := []struct {
		name          string
		dbParam       *gorm.DB
		category      string
		key           string
		seedData      []models.SettingDefinition
		expectedError error
	}{
		{
			name:          "nil database",
			dbParam:       nil,
			category:      "parking",
			key:           "parking.rates.trailer",
			expectedError: ErrDBNil,
		},
		{
			name:          "empty category",
			dbParam:       db,
			category:      "",
			key:           "parking.rates.trailer",
			expectedError: ErrDefinitionCategoryEmpty,
		},
		{
			name:          "empty key",
			dbParam:       db,
			category:      "parking",
			key:           "",
			expectedError: ErrDefinitionKeyEmpty,
		},
		{
			name:          "definition not found",
			dbParam:       db,
			category:      "parking",
			key:           "nonexistent",
			expectedError: ErrDefinitionNotFound,
		},
		{
			name:     "successful get",
			dbParam:  db,
			category: "parking",
			key:      "parking.rates.trailer",
			seedData: []models.SettingDefinition{
				numberDef("parking", "parking.rates.trailer", 225),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Clean database for each test
			if tc.dbParam != nil {
				tc.dbParam.Exec("DELETE FROM setting_definitions")
			}
			seedDefinitions(t, db, tc.seedData)

			def, err := Get(tc.dbParam, tc.category, tc.key)

			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
				assert.Nil(t, def)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, def)
			assert.Equal(t, tc.key, def.Key)
			assert.Equal(t, tc.category, def.Category)
		})
	}
}

func TestGetByKey(t *testing.T) {
	db := setupTestDB(t)

	seedDefinitions(t, db, []models.SettingDefinition{
		numberDef("parking", "parking.rates.trailer", 225),
	})

	def, err := GetByKey(db, "parking.rates.trailer")
	require.NoError(t, err)
	assert.Equal(t, value.TypeNumber, def.DataType)

	_, err = GetByKey(db, "missing.key")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)

	_, err = GetByKey(db, "")
	assert.ErrorIs(t, err, ErrDefinitionKeyEmpty)

	_, err = GetByKey(nil, "parking.rates.trailer")
	assert.ErrorIs(t, err, ErrDBNil)
}

func TestGetByID(t *testing.T) {
	db := setupTestDB(t)

	def := numberDef("parking", "parking.rates.trailer", 225)
	require.NoError(t, db.Create(&def).Error)

	found, err := GetByID(db, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "parking.rates.trailer", found.Key)

	_, err = GetByID(db, 9999)
	assert.ErrorIs(t, err, ErrDefinitionNotFound)

	_, err = GetByID(nil, def.ID)
	assert.ErrorIs(t, err, ErrDBNil)
}

func TestGetAllOrdering(t *testing.T) {
	db := setupTestDB(t)

	trailer := numberDef("parking", "parking.rates.trailer", 225)
	trailer.SortOrder = 2
	twoWheeler := numberDef("parking", "parking.rates.two_wheeler", 50)
	twoWheeler.SortOrder = 1
	theme := models.SettingDefinition{
		Category:     "appearance",
		Key:          "appearance.theme_mode",
		DataType:     value.TypeString,
		DefaultValue: datatypes.JSON(value.String("light").MustJSON()),
	}

	seedDefinitions(t, db, []models.SettingDefinition{trailer, twoWheeler, theme})

	defs, err := GetAll(db)
	require.NoError(t, err)
	require.Len(t, defs, 3)

	assert.Equal(t, "appearance.theme_mode", defs[0].Key)
	assert.Equal(t, "parking.rates.two_wheeler", defs[1].Key)
	assert.Equal(t, "parking.rates.trailer", defs[2].Key)
}

func TestGetByCategory(t *testing.T) {
	db := setupTestDB(t)

	seedDefinitions(t, db, []models.SettingDefinition{
		numberDef("parking", "parking.rates.trailer", 225),
		numberDef("parking", "parking.rates.two_wheeler", 50),
		{
			Category:     "appearance",
			Key:          "appearance.theme_mode",
			DataType:     value.TypeString,
			DefaultValue: datatypes.JSON(value.String("light").MustJSON()),
		},
	})

	defs, err := GetByCategory(db, "parking")
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	_, err = GetByCategory(db, "")
	assert.ErrorIs(t, err, ErrDefinitionCategoryEmpty)
}

func TestCreate(t *testing.T) {
	db := setupTestDB(t)

	testCases := []struct {
		name          string
		dbParam       *gorm.DB
		def           models.SettingDefinition
		seedData      []models.SettingDefinition
		expectedError error
	}{
		{
			name:          "nil database",
			dbParam:       nil,
			def:           numberDef("parking", "parking.rates.trailer", 225),
			expectedError: ErrDBNil,
		},
		{
			name:          "empty category",
			dbParam:       db,
			def:           numberDef("", "parking.rates.trailer", 225),
			expectedError: ErrDefinitionCategoryEmpty,
		},
		{
			name:          "empty key",
			dbParam:       db,
			def:           numberDef("parking", "", 225),
			expectedError: ErrDefinitionKeyEmpty,
		},
		{
			name:    "duplicate key same category",
			dbParam: db,
			def:     numberDef("parking", "parking.rates.trailer", 225),
			seedData: []models.SettingDefinition{
				numberDef("parking", "parking.rates.trailer", 225),
			},
			expectedError: ErrDefinitionAlreadyExists,
		},
		{
			name:    "duplicate key different category",
			dbParam: db,
			def:     numberDef("billing", "parking.rates.trailer", 225),
			seedData: []models.SettingDefinition{
				numberDef("parking", "parking.rates.trailer", 225),
			},
			expectedError: ErrDefinitionAlreadyExists,
		},
		{
			name:    "successful create",
			dbParam: db,
			def:     numberDef("parking", "parking.rates.trailer", 225),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.dbParam != nil {
				tc.dbParam.Exec("DELETE FROM setting_definitions")
			}
			seedDefinitions(t, db, tc.seedData)

			created, err := Create(tc.dbParam, &tc.def)

			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, created)
			assert.NotZero(t, created.ID)
		})
	}
}

func TestUpdate(t *testing.T) {
	db := setupTestDB(t)

	def := numberDef("parking", "parking.rates.trailer", 225)
	require.NoError(t, db.Create(&def).Error)

	def.Description = "hourly rate for trailers"
	updated, err := Update(db, &def)
	require.NoError(t, err)
	assert.Equal(t, "hourly rate for trailers", updated.Description)

	missing := numberDef("parking", "parking.rates.bus", 300)
	missing.ID = 9999
	_, err = Update(db, &missing)
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)

	def := numberDef("parking", "parking.rates.trailer", 225)
	require.NoError(t, db.Create(&def).Error)

	require.NoError(t, Delete(db, def.ID))
	assert.ErrorIs(t, Delete(db, def.ID), ErrDefinitionNotFound)
	assert.ErrorIs(t, Delete(nil, def.ID), ErrDBNil)
}

func TestCount(t *testing.T) {
	db := setupTestDB(t)

	count, err := Count(db)
	require.NoError(t, err)
	assert.Zero(t, count)

	seedDefinitions(t, db, []models.SettingDefinition{
		numberDef("parking", "parking.rates.trailer", 225),
		numberDef("parking", "parking.rates.two_wheeler", 50),
	})

	count, err = Count(db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
