package gormstore

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditEntry mirrors the credit_history table. Rows are append-only;
// nothing in this module updates or deletes them.
type CreditEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	Category      string    `gorm:"not null;index"`
	Quantity      int64     `gorm:"not null"`
	Confirmed     bool      `gorm:"column:status;not null;default:false"`
	EmployeeID    string    `gorm:"column:employee_id;not null"`
	DisplayName   string    `gorm:"column:name;not null"`
	UserID        *int64    `gorm:"column:user_id"`
	IsUserRequest bool      `gorm:"column:is_user_request;not null"`
	HuID          *string   `gorm:"column:hu_id"`
	CreatedAt     time.Time `gorm:"not null;index:idx_credit_history_created_id,priority:1"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (CreditEntry) TableName() string { return "credit_history" }

// Notification mirrors the notification table written by ledger
// mutations. Delivery is handled elsewhere.
type Notification struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	UserID    int64          `gorm:"column:user_id;not null;index"`
	Category  string         `gorm:"not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (Notification) TableName() string { return "notification" }

// User mirrors the platform's user table. This module only reads it.
type User struct {
	ID         int64  `gorm:"primaryKey"`
	EmployeeID string `gorm:"column:employee_id;not null"`
	Name       string `gorm:"not null"`
	Role       string `gorm:"not null"`
}

func (User) TableName() string { return "user" }

// LedgerLock is a single-row table. Mutating transactions lock its row
// for update to serialize check-and-append sequences.
type LedgerLock struct {
	ID int64 `gorm:"primaryKey"`
}

func (LedgerLock) TableName() string { return "credit_ledger_lock" }

// Migrate creates the schema and seeds the ledger lock row.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&CreditEntry{}, &Notification{}, &User{}, &LedgerLock{}); err != nil {
		return err
	}
	return db.FirstOrCreate(&LedgerLock{ID: ledgerLockRowID}).Error
}
