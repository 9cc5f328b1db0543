package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationSeedRegistryCounters   = "0001_seed_registry_counters"
	migrationRepairExternalDefaults = "0002_repair_externally_written_defaults"
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

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedRegistryCounters, apply: seedRegistryCounters},
		{name: migrationRepairExternalDefaults, apply: repairExternalDefaults},
	}

	for _, migration := range migrations {
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

// A fresh registry starts with an explicit zero total.
func seedRegistryCounters(db *gorm.DB) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&certificates.RegistryCounter{Name: certificates.TotalCertificatesCounter, Value: 0}).Error
}

// Rows inserted around the service (bulk imports, manual sqlite edits) skip the
// Go-side defaults for category, metadata and tags.
func repairExternalDefaults(db *gorm.DB) error {
	if err := db.Model(&certificates.Certificate{}).
		Where("TRIM(category) = ''").
		Update("category", certificates.DefaultCategory).Error; err != nil {
		return err
	}
	if err := db.Model(&certificates.Certificate{}).
		Where("TRIM(metadata) = ''").
		Update("metadata", certificates.DefaultMetadata).Error; err != nil {
		return err
	}
	return db.Exec("UPDATE certificates SET ai_tags = '[]' WHERE ai_tags IS NULL OR ai_tags = 'null'").Error
}
