package database

import (
	"context"
	"fmt"
	"time"

	"retail-backend/internal/config"
	"retail-backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres. Duplicate-key violations are translated to
// gorm.ErrDuplicatedKey so repositories can detect conflicts portably.
func Open(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	level := logger.Warn
	if !cfg.IsProduction() {
		level = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		TranslateError: true,
		Logger: logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Branch{},
		&models.User{},
		&models.Privilege{},
		&models.UserPrivilege{},
		&models.UserBranch{},
		&models.Product{},
		&models.StockEntry{},
		&models.Customer{},
		&models.Campaign{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

// SeedPrivileges upserts the privilege catalog. Existing rows keep their
// id; only the display name and module are refreshed.
func SeedPrivileges(ctx context.Context, db *gorm.DB) error {
	privs := make([]models.Privilege, len(models.DefaultPrivileges))
	copy(privs, models.DefaultPrivileges)

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "codename"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "module", "updated_at"}),
	}).Create(&privs).Error
	if err != nil {
		return fmt.Errorf("seed privileges: %w", err)
	}
	return nil
}
