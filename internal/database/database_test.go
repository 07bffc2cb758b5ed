package database

import (
	"path/filepath"
	"testing"

	"github.com/bitfantasy/nimo-change/internal/config"
	"github.com/bitfantasy/nimo-change/internal/plm/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     filepath.Join(t.TempDir(), "data", "plm.db"),
		LogLevel: "silent",
		Tracing:  true,
	}

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	require.NoError(t, Migrate(db, nil))
	for _, model := range entity.Models() {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}

	// 重复迁移应当幂等
	require.NoError(t, Migrate(db, nil))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)

	_, err = Open(config.DatabaseConfig{Driver: "sqlite"}, nil)
	assert.Error(t, err)
}
