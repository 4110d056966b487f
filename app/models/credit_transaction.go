package models

import "time"

// Credit transaction types. Usage entries carry a negative delta, all grant
// types a positive one, reset entries whatever delta the rollover produced.
const (
	CreditTxUsage    = "usage"
	CreditTxPurchase = "purchase"
	CreditTxBonus    = "bonus"
	CreditTxRefund   = "refund"
	CreditTxReset    = "reset"
)

// CreditTransaction is the append-only audit trail of every balance-affecting
// event. Rows are never updated or deleted; CreditsAfter always equals
// CreditsBefore + CreditsDelta as observed by the transaction that wrote it.
type CreditTransaction struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;index:idx_credit_transactions_user_created,priority:1" json:"user_id"`
	Type            string    `gorm:"type:varchar(20);not null;index" json:"type"`
	CreditsDelta    int64     `gorm:"not null" json:"credits_delta"`
	CreditsBefore   int64     `gorm:"not null" json:"credits_before"`
	CreditsAfter    int64     `gorm:"not null" json:"credits_after"`
	Description     string    `gorm:"type:varchar(255);default:''" json:"description"`
	RelatedEntity   string    `gorm:"type:varchar(50);default:'';index" json:"related_entity"`
	RelatedEntityID string    `gorm:"type:varchar(191);default:''" json:"related_entity_id"`
	ModeID          string    `gorm:"type:varchar(50);default:''" json:"mode_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index:idx_credit_transactions_user_created,priority:2" json:"created_at"`
}
