package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TradeRecord is the audit row written when a queued trade finishes.
type TradeRecord struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	TradeID  string `gorm:"type:varchar(200);not null;uniqueIndex"`
	WorkerID string `gorm:"type:varchar(50);not null;index"`
	UserID   string `gorm:"type:varchar(100);not null;index"`
	Strategy string `gorm:"type:varchar(50);index"`
	Status   string `gorm:"type:varchar(20);not null;index"`

	Wallet    string          `gorm:"type:varchar(100)"`
	Signature string          `gorm:"type:varchar(200)"`
	Notional  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Result    datatypes.JSON  `gorm:"type:jsonb"`
	Error     *string         `gorm:"type:text"`

	QueuedAt   time.Time  `gorm:"type:timestamptz;not null;index"`
	ExecutedAt *time.Time `gorm:"type:timestamptz"`
	FinishedAt *time.Time `gorm:"type:timestamptz"`
	DurationMs int64      `gorm:"not null;default:0"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (TradeRecord) TableName() string {
	return "trade_records"
}
