package settlement

import (
	"errors"
	"time"

	"github.com/keyquill/keyquill/app/models"
	"gorm.io/gorm"
)

// OrderRepository provides the payment-order persistence used by the engine.
// ClaimPending is the compare-and-swap at the heart of settlement: it flips
// pending to completed in one conditional statement and reports whether this
// caller's update was the one that actually changed the row.
type OrderRepository interface {
	Create(order *models.PaymentOrder) error
	GetByCheckoutID(checkoutID string) (*models.PaymentOrder, error)
	ClaimPending(checkoutID string, paidAt time.Time) (bool, error)
	FailPending(checkoutID string) (bool, error)
	SetGrantError(checkoutID string, message string) error
	ListStalePending(olderThan time.Duration, limit int) ([]models.PaymentOrder, error)
	ListUnfulfilled(limit int) ([]models.PaymentOrder, error)
	ListByUser(userID uint, offset, limit int) ([]models.PaymentOrder, error)
}

type gormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository backed by GORM.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &gormOrderRepository{db: db}
}

func (r *gormOrderRepository) Create(order *models.PaymentOrder) error {
	return r.db.Create(order).Error
}

func (r *gormOrderRepository) GetByCheckoutID(checkoutID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := r.db.Where("checkout_id = ?", checkoutID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ClaimPending performs the settlement claim. The WHERE clause carries the
// state predicate, so of any number of concurrent claimers exactly one update
// affects the row; everyone else sees zero rows affected.
func (r *gormOrderRepository) ClaimPending(checkoutID string, paidAt time.Time) (bool, error) {
	res := r.db.Model(&models.PaymentOrder{}).
		Where("checkout_id = ? AND status = ?", checkoutID, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":  models.OrderStatusCompleted,
			"paid_at": paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailPending moves a pending order to failed under the same predicate
// discipline as the claim; a completed order can never be failed afterwards.
func (r *gormOrderRepository) FailPending(checkoutID string) (bool, error) {
	res := r.db.Model(&models.PaymentOrder{}).
		Where("checkout_id = ? AND status = ?", checkoutID, models.OrderStatusPending).
		Update("status", models.OrderStatusFailed)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormOrderRepository) SetGrantError(checkoutID string, message string) error {
	return r.db.Model(&models.PaymentOrder{}).
		Where("checkout_id = ?", checkoutID).
		Update("grant_error", message).Error
}

func (r *gormOrderRepository) ListStalePending(olderThan time.Duration, limit int) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	cutoff := time.Now().Add(-olderThan)
	err := r.db.Where("status = ? AND created_at < ?", models.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ListUnfulfilled returns completed orders whose grant did not persist. These
// are the claimed-but-unfulfilled cases that need manual reconciliation.
func (r *gormOrderRepository) ListUnfulfilled(limit int) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := r.db.Where("status = ? AND grant_error <> ''", models.OrderStatusCompleted).
		Order("paid_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *gormOrderRepository) ListByUser(userID uint, offset, limit int) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := r.db.Where("user_id = ?", userID).
		Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&orders).Error
	return orders, err
}
