package db

import (
	"harvest/internal/models"
)

// AutoMigrate creates the audit tables. The users table is external and is
// only read.
func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}
	return db.Gorm.AutoMigrate(
		&models.TradeRecord{},
		&models.WorkerEvent{},
	)
}
