package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillWasPublicBefore = "2026-08-10_backfill_was_public_before"

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
		{name: migrationBackfillWasPublicBefore, apply: backfillWasPublicBefore},
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

// backfillWasPublicBefore repairs rows imported from before the flag
// existed: any chart that is currently public has necessarily been public.
func backfillWasPublicBefore(db *gorm.DB) error {
	const statement = `UPDATE charts
		SET meta = json_set(meta, '$.wasPublicBefore', json('true'))
		WHERE json_extract(meta, '$.isPublic')
		  AND NOT json_extract(meta, '$.wasPublicBefore');`
	return db.Exec(statement).Error
}
