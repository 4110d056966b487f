package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/keyquill/keyquill/app/models"
	"gorm.io/gorm"
)

// Provenance tags a ledger entry with the entity that caused it, e.g. a
// payment order id or a keyword research id.
type Provenance struct {
	RelatedEntity   string
	RelatedEntityID string
	ModeID          string
}

// Service is the credits ledger. It owns every write to the credit balance
// and the credit transaction log. Operations are not retried internally; a
// failed call propagates and retrying a grant is only safe through the
// settlement engine's claim, never by calling Credit again directly.
type Service struct {
	repo Repository
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Debit consumes amount credits for a usage event and returns the remaining
// balance. Returns ErrAccountNotFound when the user has no balance row and
// *InsufficientCreditsError when the headroom does not cover the amount.
func (s *Service) Debit(ctx context.Context, userID uint, amount int64, description string, prov Provenance) (int64, error) {
	_ = ctx
	if userID == 0 {
		return 0, errors.New("user_id is required")
	}
	if amount <= 0 {
		return 0, errors.New("debit amount must be positive")
	}

	bal, err := s.repo.Debit(userID, amount, EntryInput{
		Description:     description,
		RelatedEntity:   prov.RelatedEntity,
		RelatedEntityID: prov.RelatedEntityID,
		ModeID:          prov.ModeID,
	})
	if err != nil {
		return 0, err
	}
	return bal.Remaining(), nil
}

// Credit applies a grant of the given type (purchase, bonus or refund) and
// returns the new credit total. The balance row is created when absent.
// Credit is not idempotent across retries: deduplicating a real-world grant
// is the caller's responsibility (the settlement engine's claim for
// purchases).
func (s *Service) Credit(ctx context.Context, userID uint, amount int64, grantType, description string, prov Provenance) (int64, error) {
	_ = ctx
	if userID == 0 {
		return 0, errors.New("user_id is required")
	}
	if amount <= 0 {
		return 0, errors.New("credit amount must be positive")
	}
	switch grantType {
	case models.CreditTxPurchase, models.CreditTxBonus, models.CreditTxRefund:
	default:
		return 0, errors.New("invalid grant type: " + grantType)
	}

	bal, err := s.repo.Credit(userID, amount, EntryInput{
		Type:            grantType,
		Description:     description,
		RelatedEntity:   prov.RelatedEntity,
		RelatedEntityID: prov.RelatedEntityID,
		ModeID:          prov.ModeID,
	})
	if err != nil {
		return 0, err
	}
	return bal.TotalCredits, nil
}

// Reset starts a fresh plan cycle: used credits drop to zero and the total
// becomes newTotal. Used by the period rollover job, never by request
// handlers.
func (s *Service) Reset(ctx context.Context, userID uint, newTotal int64, nextResetAt *time.Time, description string) error {
	_ = ctx
	if userID == 0 {
		return errors.New("user_id is required")
	}
	if newTotal < 0 {
		return errors.New("reset total must not be negative")
	}

	_, err := s.repo.Reset(userID, newTotal, nextResetAt, EntryInput{
		Description:   description,
		RelatedEntity: "plan_rollover",
	})
	return err
}

// AuditResult compares the transaction log against the balance row.
type AuditResult struct {
	Remaining int64
	LogSum    int64
}

// Consistent reports whether the log reconstructs the balance exactly.
func (r AuditResult) Consistent() bool { return r.Remaining == r.LogSum }

// Audit sums every logged delta for a user and reports it next to the
// balance row's remaining figure. The two are equal for any account whose
// writes all went through the ledger; a mismatch means something wrote the
// balance directly and needs manual investigation.
func (s *Service) Audit(ctx context.Context, userID uint) (*AuditResult, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	bal, err := s.repo.GetBalance(userID)
	if err != nil {
		return nil, err
	}
	sum, err := s.repo.SumDeltas(userID)
	if err != nil {
		return nil, err
	}
	return &AuditResult{Remaining: bal.Remaining(), LogSum: sum}, nil
}

// Balance returns the current credit balance for a user.
func (s *Service) Balance(ctx context.Context, userID uint) (*models.CreditBalance, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	return s.repo.GetBalance(userID)
}

// History returns transaction log entries, newest first.
func (s *Service) History(ctx context.Context, userID uint, offset, limit int) ([]models.CreditTransaction, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListTransactions(userID, offset, limit)
}
