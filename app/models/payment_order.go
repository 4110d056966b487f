package models

import "time"

// Payment order lifecycle states. An order is created pending and becomes
// completed or failed exactly once; both are terminal. Only the settlement
// engine may flip the status, and only via a conditional update.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
)

// PaymentOrder is one checkout attempt against the payment provider.
// CheckoutID is the provider's identifier and the handle settlement operates
// on; RequestID is our idempotency key passed to the provider on creation.
type PaymentOrder struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	CheckoutID string     `gorm:"type:varchar(191);uniqueIndex;not null" json:"checkout_id"`
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	PlanCode   string     `gorm:"type:varchar(50);not null" json:"plan_code"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	RequestID  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	Status     string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_payment_orders_status_created,priority:1" json:"status"`
	PaymentURL string     `gorm:"type:varchar(512);default:''" json:"payment_url"`
	GrantError string     `gorm:"type:text" json:"grant_error,omitempty"`
	PaidAt     *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index:idx_payment_orders_status_created,priority:2" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the order can no longer change state.
func (o *PaymentOrder) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusFailed
}
