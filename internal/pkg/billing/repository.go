package billing

import (
	"github.com/keyquill/keyquill/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	GetActivePlanByCode(code string) (*models.BillingPlan, error)
	ListActivePlans() ([]models.BillingPlan, error)
	GetActiveSubscription(userID uint) (*models.BillingSubscription, error)
	ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error)
	CreateSubscription(sub *models.BillingSubscription) error
	SaveSubscription(sub *models.BillingSubscription) error
	SupersedeActiveSubscriptions(userID uint, exceptID uint) error
	ListDueForRollover(limit int) ([]models.BillingSubscription, error)
	GetOrCreateUserSettings(userID uint) (*models.UserSettings, error)
	SaveUserSettings(us *models.UserSettings) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetActivePlanByCode(code string) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	err := r.db.Where("code = ? AND is_active = ?", code, true).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) ListActivePlans() ([]models.BillingPlan, error) {
	var plans []models.BillingPlan
	err := r.db.Where("is_active = ?", true).Order("price_cents ASC").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) GetActiveSubscription(userID uint) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("user_id = ? AND status = ?", userID, models.BillingStatusActive).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateSubscription(sub *models.BillingSubscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.BillingSubscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) SupersedeActiveSubscriptions(userID uint, exceptID uint) error {
	return r.db.Model(&models.BillingSubscription{}).
		Where("user_id = ? AND status = ? AND id <> ?", userID, models.BillingStatusActive, exceptID).
		Update("status", models.BillingStatusSuperseded).Error
}

func (r *gormRepository) ListDueForRollover(limit int) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.
		Joins("JOIN credit_balances ON credit_balances.user_id = billing_subscriptions.user_id").
		Where("billing_subscriptions.status = ?", models.BillingStatusActive).
		Where("credit_balances.next_reset_at IS NOT NULL AND credit_balances.next_reset_at <= NOW()").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	return models.GetOrCreateUserSettings(r.db, userID)
}

func (r *gormRepository) SaveUserSettings(us *models.UserSettings) error {
	return r.db.Save(us).Error
}
