package models

import "time"

// DailyUsageStat is an aggregated per-day, per-mode usage row. Counters are
// buffered in Redis and flushed here in batches; the credit transaction log
// stays the authoritative source.
type DailyUsageStat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Date      time.Time `gorm:"type:date;not null;index:ux_daily_usage_stats_date_mode,unique,priority:1" json:"date"`
	ModeID    string    `gorm:"type:varchar(50);not null;index:ux_daily_usage_stats_date_mode,unique,priority:2" json:"mode_id"`
	Credits   int64     `gorm:"not null;default:0" json:"credits"`
	Requests  int64     `gorm:"not null;default:0" json:"requests"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
