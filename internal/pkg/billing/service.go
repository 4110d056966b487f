package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/keyquill/keyquill/app/models"
	"gorm.io/gorm"
)

// Service manages the plan catalog and locally owned subscription state.
// Subscription writes happen only on behalf of the settlement engine and the
// rollover job.
type Service struct {
	repo Repository
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// GetPlan resolves an active plan by its code. Unlike the effective-plan
// reconciliation, a code absent from the catalog is an error here, never a
// silent fallback to free.
func (s *Service) GetPlan(ctx context.Context, code string) (*models.BillingPlan, error) {
	_ = ctx
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "" {
		return nil, errors.New("plan code is required")
	}
	return s.repo.GetActivePlanByCode(c)
}

// ListPlans returns the purchasable catalog, cheapest first.
func (s *Service) ListPlans(ctx context.Context) ([]models.BillingPlan, error) {
	_ = ctx
	return s.repo.ListActivePlans()
}

// ActiveSubscription returns the user's current active subscription, or
// gorm.ErrRecordNotFound when none exists.
func (s *Service) ActiveSubscription(ctx context.Context, userID uint) (*models.BillingSubscription, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	return s.repo.GetActiveSubscription(userID)
}

// ApplySettlement records a paid order against the subscription state: an
// existing active subscription for the same plan gets its period extended,
// any other active subscription is superseded and a fresh one inserted. The
// caller (the settlement engine) guarantees this runs at most once per order.
func (s *Service) ApplySettlement(ctx context.Context, userID uint, plan *models.BillingPlan, paidAt time.Time) (*models.BillingSubscription, error) {
	_ = ctx
	if userID == 0 || plan == nil {
		return nil, errors.New("user_id and plan are required")
	}

	interval := normalizeInterval(plan.BillingInterval)
	if interval == models.BillingIntervalUnknown {
		interval = models.BillingIntervalMonth
	}

	existing, err := s.repo.GetActiveSubscription(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if existing != nil && existing.PlanCode == plan.Code {
		// Same plan: extend the running period. Extension starts at the later
		// of now and the current period end so early renewals stack.
		base := paidAt
		if existing.CurrentPeriodEnd != nil && existing.CurrentPeriodEnd.After(base) {
			base = *existing.CurrentPeriodEnd
		}
		end := addInterval(base, interval)
		existing.CurrentPeriodEnd = &end
		existing.BillingInterval = interval
		if err := s.repo.SaveSubscription(existing); err != nil {
			return nil, err
		}
		return existing, s.reconcileUserPlan(userID, plan.Code)
	}

	start := paidAt
	end := addInterval(paidAt, interval)
	sub := &models.BillingSubscription{
		UserID:             userID,
		PlanCode:           plan.Code,
		Status:             models.BillingStatusActive,
		BillingInterval:    interval,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}
	if err := s.repo.CreateSubscription(sub); err != nil {
		return nil, err
	}
	// Plan change: the old subscription is superseded, not deleted.
	if err := s.repo.SupersedeActiveSubscriptions(userID, sub.ID); err != nil {
		return nil, err
	}
	return sub, s.reconcileUserPlan(userID, plan.Code)
}

// ListDueForRollover returns active subscriptions whose balance reset is due.
func (s *Service) ListDueForRollover(ctx context.Context, limit int) ([]models.BillingSubscription, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListDueForRollover(limit)
}

// ReconcileUserPlan computes and writes the best effective plan for a user
// from their entitling subscriptions.
func (s *Service) ReconcileUserPlan(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	if userID == 0 {
		return "", errors.New("user_id is required")
	}

	subs, err := s.repo.ListSubscriptionsByUser(userID)
	if err != nil {
		return "", err
	}

	best := normalizePlan("")
	for _, sub := range subs {
		if !isEntitlingStatus(sub.Status) {
			continue
		}
		candidate := normalizePlan(sub.PlanCode)
		if planRank(candidate) > planRank(best) {
			best = candidate
		}
	}
	return best, s.reconcileUserPlan(userID, best)
}

func (s *Service) reconcileUserPlan(userID uint, plan string) error {
	us, err := s.repo.GetOrCreateUserSettings(userID)
	if err != nil {
		return err
	}
	if normalizePlan(us.Plan) == normalizePlan(plan) {
		return nil
	}
	us.Plan = normalizePlan(plan)
	return s.repo.SaveUserSettings(us)
}

func addInterval(t time.Time, interval string) time.Time {
	if interval == models.BillingIntervalYear {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}
