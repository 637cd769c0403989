package counters

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, time.January, 15, 19, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "counters.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *gorm.DB) {
	t.Helper()
	if cfg.Database == nil {
		cfg.Database = newTestDatabase(t)
	}
	if cfg.Clock == nil {
		cfg.Clock = fixedClock
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 64
	}
	if cfg.RetryPause == 0 {
		cfg.RetryPause = time.Millisecond
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to build counter service: %v", err)
	}
	return service, cfg.Database
}

func mustSnapshot(t *testing.T, service *Service) Snapshot {
	t.Helper()
	snapshot, err := service.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	return snapshot
}

func findPage(t *testing.T, snapshot Snapshot, slug string) PageRecord {
	t.Helper()
	var found []PageRecord
	for _, page := range snapshot.Pages {
		if page.Slug == slug {
			found = append(found, page)
		}
	}
	if len(found) != 1 {
		t.Fatalf("expected exactly one page record for %q, got %d", slug, len(found))
	}
	return found[0]
}

func findProduct(t *testing.T, snapshot Snapshot, slug string) (ProductRecord, bool) {
	t.Helper()
	var found []ProductRecord
	for _, product := range snapshot.Products {
		if product.Slug == slug {
			found = append(found, product)
		}
	}
	if len(found) > 1 {
		t.Fatalf("expected at most one product record for %q, got %d", slug, len(found))
	}
	if len(found) == 0 {
		return ProductRecord{}, false
	}
	return found[0], true
}

func findTraffic(t *testing.T, snapshot Snapshot, date string) TrafficRecord {
	t.Helper()
	var found []TrafficRecord
	for _, day := range snapshot.Traffic {
		if day.Date == date {
			found = append(found, day)
		}
	}
	if len(found) != 1 {
		t.Fatalf("expected exactly one traffic record for %q, got %d", date, len(found))
	}
	return found[0]
}
