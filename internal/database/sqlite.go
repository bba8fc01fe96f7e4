package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/notestore"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection for one tenant database and
// performs schema migrations. The pool is pinned to one connection; SQLite
// serializes writers anyway and a single handle keeps transaction isolation
// simple.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&revisions.Revision{},
		&revisions.RetentionMark{},
		&notestore.Note{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
