package queuestore

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/confsync/confsync/internal/db/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	// Migrate the schema
	err = db.AutoMigrate(&models.QueueEntry{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func entry(key string, clientTS int64) *models.QueueEntry {
	return &models.QueueEntry{
		Op:              models.QueueOpSet,
		Key:             key,
		Value:           datatypes.JSON(`"dark"`),
		UserID:          "U1",
		ClientTimestamp: clientTS,
	}
}

func TestAppend(t *testing.T) {
	db := setupTestDB(t)

	testCases := []struct {
		name          string
		dbParam       *gorm.DB
		entry         *models.QueueEntry
		expectedError error
	}{
		{
			name:          "nil database",
			dbParam:       nil,
			entry:         entry("appearance.theme_mode", 1),
			expectedError: ErrDBNil,
		},
		{
			name:          "empty key",
			dbParam:       db,
			entry:         entry("", 1),
			expectedError: ErrEntryKeyEmpty,
		},
		{
			name:    "invalid op",
			dbParam: db,
			entry: &models.QueueEntry{
				Op:  models.QueueOp("merge"),
				Key: "appearance.theme_mode",
			},
			expectedError: ErrOpInvalid,
		},
		{
			name:    "successful append",
			dbParam: db,
			entry:   entry("appearance.theme_mode", 1),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Append(tc.dbParam, tc.entry)

			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
				return
			}

			require.NoError(t, err)
			assert.NotZero(t, tc.entry.ID)
		})
	}
}

func TestOldestOrder(t *testing.T) {
	db := setupTestDB(t)

	// inserted out of order on purpose
	second := entry("b", 200)
	first := entry("a", 100)
	third := entry("c", 300)
	// same client timestamp as first, inserted later, must come after it
	firstTie := entry("a2", 100)

	for _, e := range []*models.QueueEntry{second, first, third, firstTie} {
		require.NoError(t, Append(db, e))
	}

	entries, err := Oldest(db, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, "a2", entries[1].Key)
	assert.Equal(t, "b", entries[2].Key)
	assert.Equal(t, "c", entries[3].Key)

	limited, err := Oldest(db, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCount(t *testing.T) {
	db := setupTestDB(t)

	count, err := Count(db)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, Append(db, entry("a", 1)))

	count, err = Count(db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)

	e := entry("a", 1)
	require.NoError(t, Append(db, e))

	require.NoError(t, Delete(db, e.ID))
	assert.ErrorIs(t, Delete(db, e.ID), ErrEntryNotFound)
}

func TestIncrementAttempt(t *testing.T) {
	db := setupTestDB(t)

	e := entry("a", 1)
	require.NoError(t, Append(db, e))

	require.NoError(t, IncrementAttempt(db, e.ID))
	require.NoError(t, IncrementAttempt(db, e.ID))

	var stored models.QueueEntry
	require.NoError(t, db.First(&stored, e.ID).Error)
	assert.Equal(t, 2, stored.AttemptCount)

	assert.ErrorIs(t, IncrementAttempt(db, 9999), ErrEntryNotFound)
}
