package models

import "time"

// CreditBalance tracks the usage-credit counters for one user. There is at
// most one row per user; it is created lazily on the first grant or
// provisioning event. UsedCredits may never exceed TotalCredits - the ledger
// enforces this at write time with a conditional update, never with a
// read-then-check.
type CreditBalance struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	TotalCredits int64      `gorm:"not null;default:0" json:"total_credits"`
	UsedCredits  int64      `gorm:"not null;default:0" json:"used_credits"`
	BonusCredits int64      `gorm:"not null;default:0" json:"bonus_credits"`
	LastResetAt  *time.Time `gorm:"type:timestamp;default:null" json:"last_reset_at,omitempty"`
	NextResetAt  *time.Time `gorm:"type:timestamp;default:null;index" json:"next_reset_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Remaining returns the spendable credits left on the balance.
func (b *CreditBalance) Remaining() int64 {
	return b.TotalCredits - b.UsedCredits
}
