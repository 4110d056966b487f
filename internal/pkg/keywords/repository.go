package keywords

import (
	"github.com/keyquill/keyquill/app/models"
	"gorm.io/gorm"
)

type gormResearchRepository struct {
	db *gorm.DB
}

// NewResearchRepository creates a research repository backed by GORM.
func NewResearchRepository(db *gorm.DB) ResearchRepository {
	return &gormResearchRepository{db: db}
}

func (r *gormResearchRepository) Create(research *models.KeywordResearch) error {
	return r.db.Create(research).Error
}

func (r *gormResearchRepository) ListByUser(userID uint, offset, limit int) ([]models.KeywordResearch, error) {
	var runs []models.KeywordResearch
	err := r.db.Where("user_id = ?", userID).
		Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&runs).Error
	return runs, err
}
