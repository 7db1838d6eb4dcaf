package models

import (
	"time"
)

// CreditBalance holds a user's assessment credit balance. Never negative.
type CreditBalance struct {
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	Balance   int       `gorm:"not null;default:0;check:balance >= 0" json:"balance"`
	Version   int       `gorm:"default:1" json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for CreditBalance model.
func (CreditBalance) TableName() string {
	return "credit_balances"
}

// CreditEntry is one row of the append-only credit audit trail. Written in
// the same transaction as the balance change it records.
type CreditEntry struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:36;not null;index" json:"user_id"`
	Delta        int       `gorm:"not null" json:"delta"` // negative for debits
	Reason       string    `gorm:"size:200;not null" json:"reason"`
	BalanceAfter int       `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for CreditEntry model.
func (CreditEntry) TableName() string {
	return "credit_entries"
}

// Voucher is a non-transferable, single-use percentage discount against a
// future retake charge.
type Voucher struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UserID     string     `gorm:"size:36;not null;index" json:"user_id"`
	Percent    int        `gorm:"not null;check:percent > 0 AND percent <= 100" json:"percent"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

// TableName specifies the table name for Voucher model.
func (Voucher) TableName() string {
	return "vouchers"
}

// Redeemed reports whether the voucher was already used.
func (v *Voucher) Redeemed() bool {
	return v.RedeemedAt != nil
}

// ExpiredAt reports whether the voucher is expired at the given instant.
func (v *Voucher) ExpiredAt(now time.Time) bool {
	return now.After(v.ExpiresAt)
}
