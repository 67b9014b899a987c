package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User represents the users table. Balance is the cached, ledger-derived
// point total.
type User struct {
	UserID    string    `gorm:"type:uuid;primaryKey"`
	Nickname  string    `gorm:"not null"`
	Balance   int64     `gorm:"not null;default:0"`
	Role      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

func (user *User) BeforeCreate(tx *gorm.DB) error {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	return nil
}

// Order mirrors the orders table. Items is an immutable JSON snapshot of the
// line items taken at order time.
type Order struct {
	OrderID   string         `gorm:"type:uuid;primaryKey"`
	UserID    string         `gorm:"type:uuid;not null;index:idx_orders_user_created,priority:1"`
	Status    string         `gorm:"not null"`
	TotalCost int64          `gorm:"not null"`
	Items     datatypes.JSON `gorm:"not null"`
	Remark    *string        `gorm:""`
	CreatedAt time.Time      `gorm:"not null;index:idx_orders_user_created,priority:2"`
}

func (Order) TableName() string { return "orders" }

func (order *Order) BeforeCreate(tx *gorm.DB) error {
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table. Rows are append-only.
type LedgerEntry struct {
	EntryID        string    `gorm:"type:uuid;primaryKey"`
	UserID         string    `gorm:"type:uuid;not null;index:idx_ledger_user_created,priority:1"`
	Amount         int64     `gorm:"not null"`
	Kind           string    `gorm:"not null"`
	Description    string    `gorm:"not null"`
	RelatedOrderID *string   `gorm:"type:uuid"`
	CreatedAt      time.Time `gorm:"not null;index:idx_ledger_user_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}
