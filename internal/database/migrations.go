package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tiluckdave/prempushp/internal/counters"
)

const (
	migrationSeedAnalyticsDocuments = "2024-01-01_seed_analytics_documents"
	migrationNormalizeLegacyFields  = "2024-02-01_normalize_legacy_enquiry_fields"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func migrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationSeedAnalyticsDocuments, apply: seedAnalyticsDocuments},
		{name: migrationNormalizeLegacyFields, apply: normalizeAggregatePayloads},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// seedAnalyticsDocuments creates the four singleton rows with zero counters.
// Existing rows are left untouched.
func seedAnalyticsDocuments(db *gorm.DB) error {
	views := counters.ViewsCounter{Name: counters.DocumentViews.String()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&views).Error; err != nil {
		return err
	}
	for _, name := range counters.AggregateDocuments() {
		document := counters.AggregateDocument{Name: name.String(), Payload: datatypes.JSON("[]")}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&document).Error; err != nil {
			return err
		}
	}
	return nil
}

// normalizeAggregatePayloads rewrites documents imported from the first
// version of the site, which spelled enquiries as "enqueries" and could hold
// duplicate keys. The version is bumped so concurrent writers re-read.
func normalizeAggregatePayloads(db *gorm.DB) error {
	for _, name := range counters.AggregateDocuments() {
		var document counters.AggregateDocument
		err := db.Where("name = ?", name.String()).Take(&document).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		normalized, err := counters.NormalizePayload(name, document.Payload)
		if err != nil {
			return err
		}
		err = db.Model(&counters.AggregateDocument{}).
			Where("name = ? AND version = ?", name.String(), document.Version).
			UpdateColumns(map[string]any{
				"payload": datatypes.JSON(normalized),
				"version": document.Version + 1,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
