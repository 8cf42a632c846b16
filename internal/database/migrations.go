package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

// Migration is a named data repair applied at most once per database.
type Migration struct {
	Name  string
	Apply func(*gorm.DB) error
}

// ClampUpdatedAt repairs rows whose updated_at precedes created_at so the
// stored history never moves backwards.
func ClampUpdatedAt(name, table string) Migration {
	return Migration{
		Name: name,
		Apply: func(db *gorm.DB) error {
			statement := fmt.Sprintf("UPDATE %s SET updated_at = created_at WHERE updated_at < created_at;", table)
			return db.Exec(statement).Error
		},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger, migrations []Migration) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.Name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.Apply(db); err != nil {
			return fmt.Errorf("migration %s: %w", migration.Name, err)
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.Name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.Name))
		}
	}
	return nil
}
