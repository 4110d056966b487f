package models

import "time"

// BillingPlan is a purchasable plan in the catalog. MonthlyCredits is the
// grant applied on settlement and on each period rollover.
type BillingPlan struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Code            string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"`
	Name            string    `gorm:"type:varchar(100);not null" json:"name"`
	PriceCents      int64     `gorm:"not null" json:"price_cents"`
	MonthlyCredits  int64     `gorm:"not null" json:"monthly_credits"`
	BillingInterval string    `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
