package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRepairLatestFlags = "2026-08-20_repair_latest_revision_flags"

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
		{name: migrationRepairLatestFlags, apply: repairLatestFlags},
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

// repairLatestFlags restores the one-latest-per-model invariant after manual
// database surgery. It clears the flag on every revision that is not the
// highest for its model, then flags the highest revision for any model left
// without a latest entry.
func repairLatestFlags(db *gorm.DB) error {
	clearStray := `
		UPDATE models SET latest = false
		WHERE latest = true AND revision <> (
			SELECT MAX(other.revision) FROM models AS other
			WHERE other.model_id = models.model_id
		);`
	if err := db.Exec(clearStray).Error; err != nil {
		return err
	}

	flagHighest := `
		UPDATE models SET latest = true
		WHERE revision = (
			SELECT MAX(other.revision) FROM models AS other
			WHERE other.model_id = models.model_id
		) AND NOT EXISTS (
			SELECT 1 FROM models AS flagged
			WHERE flagged.model_id = models.model_id AND flagged.latest = true
		);`
	return db.Exec(flagHighest).Error
}
