package models

import "time"

const (
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

const (
	BillingStatusActive     = "active"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusSuperseded = "superseded"
	BillingStatusExpired    = "expired"
)

// BillingSubscription is the locally owned subscription state for a user.
// At most one row per user is active at a time; that uniqueness is enforced
// by the settlement engine's upsert pattern, not by a hard constraint.
// On plan change the old row is superseded, never deleted.
type BillingSubscription struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;index:idx_billing_subscriptions_user_status,priority:1" json:"user_id"`
	PlanCode           string     `gorm:"type:varchar(50);not null;index" json:"plan_code"`
	Status             string     `gorm:"type:varchar(32);not null;default:'active';index:idx_billing_subscriptions_user_status,priority:2" json:"status"`
	BillingInterval    string     `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCurrent reports whether the subscription entitles the user right now.
func (s *BillingSubscription) IsCurrent(now time.Time) bool {
	if s.Status != BillingStatusActive {
		return false
	}
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
}
