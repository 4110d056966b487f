package ledger

import (
	"errors"
	"time"

	"github.com/keyquill/keyquill/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntryInput carries the audit metadata for one transaction log entry.
type EntryInput struct {
	Type            string
	Description     string
	RelatedEntity   string
	RelatedEntityID string
	ModeID          string
}

// Repository provides the atomic balance operations used by the ledger
// service. Each mutation is one database transaction containing a single
// conditional write plus its transaction log entry; there is never a
// read-modify-write pair of separate statements on the balance row.
type Repository interface {
	GetBalance(userID uint) (*models.CreditBalance, error)
	Debit(userID uint, amount int64, entry EntryInput) (*models.CreditBalance, error)
	Credit(userID uint, amount int64, entry EntryInput) (*models.CreditBalance, error)
	Reset(userID uint, newTotal int64, nextResetAt *time.Time, entry EntryInput) (*models.CreditBalance, error)
	ListTransactions(userID uint, offset, limit int) ([]models.CreditTransaction, error)
	SumDeltas(userID uint) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetBalance(userID uint) (*models.CreditBalance, error) {
	var bal models.CreditBalance
	if err := r.db.Where("user_id = ?", userID).First(&bal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &bal, nil
}

// Debit increases used_credits by amount, guarded by the write predicate
// "used_credits + amount <= total_credits". The predicate is the
// serialization point: of two concurrent debits racing for the same headroom
// the row lock orders them and the loser's predicate no longer holds, so it
// affects zero rows. A prior read of the balance is advisory only and never
// performed here.
func (r *gormRepository) Debit(userID uint, amount int64, entry EntryInput) (*models.CreditBalance, error) {
	var out models.CreditBalance
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CreditBalance{}).
			Where("user_id = ? AND used_credits + ? <= total_credits", userID, amount).
			UpdateColumn("used_credits", gorm.Expr("used_credits + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Distinguish a missing account from missing headroom.
			var bal models.CreditBalance
			if err := tx.Where("user_id = ?", userID).First(&bal).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrAccountNotFound
				}
				return err
			}
			return &InsufficientCreditsError{Remaining: bal.Remaining(), Required: amount}
		}

		// The update holds the row lock, so this read observes the post-debit
		// state of exactly our write.
		if err := tx.Where("user_id = ?", userID).First(&out).Error; err != nil {
			return err
		}
		after := out.Remaining()
		logEntry := models.CreditTransaction{
			UserID:          userID,
			Type:            models.CreditTxUsage,
			CreditsDelta:    -amount,
			CreditsBefore:   after + amount,
			CreditsAfter:    after,
			Description:     entry.Description,
			RelatedEntity:   entry.RelatedEntity,
			RelatedEntityID: entry.RelatedEntityID,
			ModeID:          entry.ModeID,
		}
		return tx.Create(&logEntry).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Credit atomically increments total_credits, creating the balance row when
// it does not exist yet. The additive assignment runs inside the upsert
// statement, so concurrent credits never lose an increment.
func (r *gormRepository) Credit(userID uint, amount int64, entry EntryInput) (*models.CreditBalance, error) {
	var out models.CreditBalance
	err := r.db.Transaction(func(tx *gorm.DB) error {
		assignments := map[string]interface{}{
			"total_credits": gorm.Expr("total_credits + ?", amount),
		}
		bal := models.CreditBalance{UserID: userID, TotalCredits: amount}
		if entry.Type == models.CreditTxBonus {
			bal.BonusCredits = amount
			assignments["bonus_credits"] = gorm.Expr("bonus_credits + ?", amount)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(assignments),
		}).Create(&bal).Error; err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", userID).First(&out).Error; err != nil {
			return err
		}
		after := out.Remaining()
		logEntry := models.CreditTransaction{
			UserID:          userID,
			Type:            entry.Type,
			CreditsDelta:    amount,
			CreditsBefore:   after - amount,
			CreditsAfter:    after,
			Description:     entry.Description,
			RelatedEntity:   entry.RelatedEntity,
			RelatedEntityID: entry.RelatedEntityID,
			ModeID:          entry.ModeID,
		}
		return tx.Create(&logEntry).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset sets the balance to a fresh period: used_credits back to zero and
// total_credits to the plan grant. The row is locked for the read so the
// before figure in the log entry matches the state the reset replaced.
func (r *gormRepository) Reset(userID uint, newTotal int64, nextResetAt *time.Time, entry EntryInput) (*models.CreditBalance, error) {
	var out models.CreditBalance
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var bal models.CreditBalance
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&bal).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		before := bal.Remaining()
		now := time.Now()
		updates := map[string]interface{}{
			"total_credits": newTotal,
			"used_credits":  0,
			"bonus_credits": 0,
			"last_reset_at": &now,
			"next_reset_at": nextResetAt,
		}
		if err := tx.Model(&models.CreditBalance{}).Where("user_id = ?", userID).Updates(updates).Error; err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", userID).First(&out).Error; err != nil {
			return err
		}
		logEntry := models.CreditTransaction{
			UserID:          userID,
			Type:            models.CreditTxReset,
			CreditsDelta:    newTotal - before,
			CreditsBefore:   before,
			CreditsAfter:    newTotal,
			Description:     entry.Description,
			RelatedEntity:   entry.RelatedEntity,
			RelatedEntityID: entry.RelatedEntityID,
		}
		return tx.Create(&logEntry).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *gormRepository) ListTransactions(userID uint, offset, limit int) ([]models.CreditTransaction, error) {
	var entries []models.CreditTransaction
	err := r.db.Where("user_id = ?", userID).
		Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&entries).Error
	return entries, err
}

// SumDeltas totals every logged delta for a user. Reset entries carry the
// delta between the old remaining and the fresh grant, so the sum over all
// entry types reconstructs the current remaining balance exactly.
func (r *gormRepository) SumDeltas(userID uint) (int64, error) {
	var sum int64
	err := r.db.Model(&models.CreditTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(credits_delta), 0)").
		Scan(&sum).Error
	return sum, err
}
