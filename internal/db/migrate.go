package db

import (
	"fmt"

	"github.com/gfhdhytghd/oqqwall/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the shared (non per-group) GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Submission{},
		&models.GroupLock{},
		&models.FlushRecord{},
	}
}

// AutoMigrate creates or updates all shared tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// ProvisionGroup creates the staging table for group if it does not exist.
// A group must be provisioned before anything can be staged in it.
func ProvisionGroup(db *gorm.DB, group string) error {
	if group == "" {
		return fmt.Errorf("db: provision: group is required")
	}
	if err := db.Table(models.StagingTable(group)).AutoMigrate(&models.StagingRow{}); err != nil {
		return fmt.Errorf("db: provision %s: %w", group, err)
	}
	return nil
}

// HasStagingTable reports whether group has been provisioned.
func HasStagingTable(db *gorm.DB, group string) bool {
	return db.Migrator().HasTable(models.StagingTable(group))
}

// Init migrates shared tables and provisions every listed group.
func Init(db *gorm.DB, groups []string) error {
	if err := AutoMigrate(db); err != nil {
		return err
	}
	for _, g := range groups {
		if err := ProvisionGroup(db, g); err != nil {
			return err
		}
	}
	return nil
}
