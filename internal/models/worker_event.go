package models

import "time"

// WorkerEvent records supervisor lifecycle actions: spawn, restart, stop.
type WorkerEvent struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	SupervisorID string    `gorm:"type:varchar(64);not null;index"`
	WorkerID     string    `gorm:"type:varchar(50);not null;index"`
	Kind         string    `gorm:"type:varchar(20);not null"`
	PID          int       `gorm:"not null;default:0"`
	Reason       string    `gorm:"type:text"`
	UserCount    int       `gorm:"not null;default:0"`
	Restarts     int       `gorm:"not null;default:0"`
	OccurredAt   time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt    time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (WorkerEvent) TableName() string {
	return "worker_events"
}
