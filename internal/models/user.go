package models

import "time"

// User is read from the account table owned by the chat layer; this module
// never migrates or writes it.
type User struct {
	ID            string    `gorm:"primaryKey;type:varchar(100)"`
	WalletAddress *string   `gorm:"type:varchar(100)"`
	Active        bool      `gorm:"not null;default:true"`
	CreatedAt     time.Time `gorm:"type:timestamptz"`
}

func (User) TableName() string {
	return "users"
}
