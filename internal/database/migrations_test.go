package database

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/notestore"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newMigrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:migrations_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&revisions.Revision{}, &revisions.RetentionMark{}, &notestore.Note{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestApplyMigrationsNormalizesLegacyKind(t *testing.T) {
	db := newMigrationTestDB(t)

	legacy := revisions.Revision{
		RevisionID:       "rev-legacy",
		NoteID:           "note-1",
		ContentGZ:        []byte{0x1f, 0x8b},
		ContentHash:      "hash-legacy",
		Kind:             revisions.RevisionKind("prerestore"),
		CreatedAtSeconds: 1700000000,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed legacy row: %v", err)
	}

	if err := applyMigrations(db, zap.NewNop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var row revisions.Revision
	if err := db.Where("revision_id = ?", "rev-legacy").Take(&row).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if row.Kind != revisions.RevisionKindPreRestore {
		t.Fatalf("expected normalized kind, got %q", row.Kind)
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationNormalizePreRestoreKind).Take(&record).Error; err != nil {
		t.Fatalf("expected a migration record: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		t.Fatalf("expected an applied timestamp")
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := newMigrationTestDB(t)

	if err := applyMigrations(db, zap.NewNop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := applyMigrations(db, zap.NewNop()); err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single migration record, got %d", count)
	}
}

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenant.db")

	db, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	for _, table := range []string{"note_revisions", "note_retention_marks", "notes", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
