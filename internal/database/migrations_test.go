package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chartfall-net/chartfall/backend/internal/catalog"
)

func TestApplyMigrationsBackfillsWasPublicBefore(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "migration.db")

	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&catalog.ChartRecord{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	// A legacy row: public but without the monotonic flag.
	legacy := catalog.ChartRecord{
		Name:   "utsk-legacy",
		Rating: 20,
		Title:  catalog.Text("Legacy"),
		Author: catalog.Text("uploader#1001"),
		Engine: catalog.DefaultEngine,
		Meta:   catalog.Meta{IsPublic: true},
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to insert legacy chart: %v", err)
	}
	private := catalog.ChartRecord{
		Name:   "utsk-private",
		Rating: 20,
		Title:  catalog.Text("Private"),
		Author: catalog.Text("uploader#1001"),
		Engine: catalog.DefaultEngine,
	}
	if err := db.Create(&private).Error; err != nil {
		t.Fatalf("failed to insert private chart: %v", err)
	}

	if err := applyMigrations(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	var repaired catalog.ChartRecord
	if err := db.Where("name = ?", "utsk-legacy").Take(&repaired).Error; err != nil {
		t.Fatalf("failed to reload legacy chart: %v", err)
	}
	if !repaired.Meta.WasPublicBefore {
		t.Fatal("legacy public chart not backfilled")
	}

	var untouched catalog.ChartRecord
	if err := db.Where("name = ?", "utsk-private").Take(&untouched).Error; err != nil {
		t.Fatalf("failed to reload private chart: %v", err)
	}
	if untouched.Meta.WasPublicBefore {
		t.Fatal("private chart incorrectly backfilled")
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationBackfillWasPublicBefore).Take(&record).Error; err != nil {
		t.Fatalf("expected migration record to be created: %v", err)
	}

	// Re-running is a no-op.
	if err := applyMigrations(db, zap.NewNop()); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		t.Fatal("expected error for empty database path")
	}
}

func TestOpenSQLiteInitializesSchema(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "catalog.db")
	db, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("acquire sql.DB: %v", err)
	}
	defer sqlDB.Close()

	for _, table := range []string{"charts", "backgrounds", "events", "feed_entries", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("table %q missing after initialization", table)
		}
	}
}
