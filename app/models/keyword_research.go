package models

import "time"

// Research modes. Each mode has its own credit cost; the mode id also tags
// the usage entry in the credit transaction log.
const (
	ResearchModeGenerate = "generate"
	ResearchModeAnalyze  = "analyze"
	ResearchModeMetrics  = "metrics"
)

// KeywordResearch persists one completed research request together with the
// credits it consumed, for the dashboard and history views.
type KeywordResearch struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index:idx_keyword_research_user_created,priority:1" json:"user_id"`
	ModeID       string    `gorm:"type:varchar(50);not null;index" json:"mode_id"`
	Query        string    `gorm:"type:varchar(255);not null" json:"query"`
	ResultJSON   string    `gorm:"type:longtext" json:"result_json"`
	CreditsSpent int64     `gorm:"not null" json:"credits_spent"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_keyword_research_user_created,priority:2" json:"created_at"`
}
