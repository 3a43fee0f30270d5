package testutil

import (
	"path/filepath"
	"regexp"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tilequest/server/cache"
	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/config"
	dbadapter "github.com/tilequest/server/db"
	"github.com/tilequest/server/model"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// SetupTestDB creates a private in-memory SQLite database and runs
// AutoMigrate. Each call gets its own database, so parallel tests are safe.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := unsafeName.ReplaceAllString(t.Name(), "_") + "_" + uuid.NewString()[:8]
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLiteMemory,
		SQLitePath: name,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	c, ps, err := cache.New(config.CacheConfig{})
	require.NoError(t, err, "SetupTestCache: New")
	return c, ps
}

// CatalogPath is the small fixture world shared by package tests.
func CatalogPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "catalog", "testdata", "catalog.yaml")
}

// TestCatalog loads the fixture world:
//
//	6x6 meadow with forest at (1,1) and (2,1), hills at (5,5),
//	a village at (3,4) and an inaccessible lake at (0,5).
func TestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Load(CatalogPath(), true)
	require.NoError(t, err, "TestCatalog")
	return c
}

// TestGameConfig returns game timings suited to tests.
func TestGameConfig() config.GameConfig {
	g := config.Default().Game
	return g
}

// Logger returns a no-op logger.
func Logger() *zap.Logger { return zap.NewNop() }
