package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open creates a GORM *DB backed by a SQLite file in WAL mode.
// SQLite has a single writer, so the pool is pinned to one connection and
// every statement (and transaction) is serialized by database/sql.
func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir %q: %w", dir, err)
		}
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	return open(dsn)
}

// OpenMemory creates a private in-memory database. name keeps parallel
// databases in the same process apart.
func OpenMemory(name string) (*gorm.DB, error) {
	if name == "" {
		name = "memdb"
	}
	return open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name))
}

func open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
