package database

import (
	"gorm.io/gorm"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Event{},
		&models.TrackedEvent{},
		&models.CacheEntry{},
		&models.ExpirationLog{},
	)
}
