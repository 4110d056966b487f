package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/keyquill/keyquill/app/models"
	"github.com/keyquill/keyquill/internal/pkg/billing"
	"github.com/keyquill/keyquill/internal/pkg/database"
	"github.com/keyquill/keyquill/internal/pkg/ledger"
)

const rolloverBatch = 100

// processPlanRolloverJob resets one user's credit period from their
// subscription plan
func (q *Queue) processPlanRolloverJob(ctx context.Context, job *Job) error {
	payload, err := PlanRolloverJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid plan rollover payload: %w", err)
	}
	if payload.SubscriptionID == 0 {
		return fmt.Errorf("plan rollover payload missing subscription_id")
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	var sub models.BillingSubscription
	if err := db.First(&sub, payload.SubscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Rollover] Subscription %d no longer exists, skipping", payload.SubscriptionID)
			return nil
		}
		return err
	}

	return rolloverSubscription(ctx, db, &sub)
}

// RolloverDueSubscriptions resets credit balances for every active
// subscription whose reset timestamp has passed. Called periodically by the
// manager.
func RolloverDueSubscriptions() error {
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	ctx := context.Background()
	billingSvc := billing.NewServiceFromDB(db)

	due, err := billingSvc.ListDueForRollover(ctx, rolloverBatch)
	if err != nil {
		return fmt.Errorf("list due subscriptions: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	reset := 0
	for i := range due {
		if err := rolloverSubscription(ctx, db, &due[i]); err != nil {
			log.Errorf("[Rollover] Subscription %d (user %d) rollover failed: %v", due[i].ID, due[i].UserID, err)
			continue
		}
		reset++
	}
	log.Infof("[Rollover] Processed %d due subscriptions, %d balances reset", len(due), reset)
	return nil
}

// rolloverSubscription applies one period reset. An expired subscription is
// closed out and the user falls back to the free tier allowance.
func rolloverSubscription(ctx context.Context, db *gorm.DB, sub *models.BillingSubscription) error {
	billingSvc := billing.NewServiceFromDB(db)
	ledgerSvc := ledger.NewServiceFromDB(db)
	now := time.Now()

	if sub.Status == models.BillingStatusActive && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Before(now) {
		if err := db.Model(&models.BillingSubscription{}).
			Where("id = ? AND status = ?", sub.ID, models.BillingStatusActive).
			Update("status", models.BillingStatusExpired).Error; err != nil {
			return fmt.Errorf("expire subscription: %w", err)
		}
		if _, err := billingSvc.ReconcileUserPlan(ctx, sub.UserID); err != nil {
			return fmt.Errorf("reconcile plan after expiry: %w", err)
		}
	}

	// The reset allowance comes from whatever plan the user is entitled to
	// now, which is the free tier once the paid subscription lapsed.
	var allowance int64
	planCode, err := billingSvc.ReconcileUserPlan(ctx, sub.UserID)
	if err != nil {
		return fmt.Errorf("resolve effective plan: %w", err)
	}
	if plan, err := billingSvc.GetPlan(ctx, planCode); err == nil {
		allowance = plan.MonthlyCredits
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("plan lookup: %w", err)
	}

	next := now.AddDate(0, 1, 0)
	if err := ledgerSvc.Reset(ctx, sub.UserID, allowance, &next, "monthly credit reset ("+planCode+")"); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			log.Warnf("[Rollover] User %d has no credit balance, skipping reset", sub.UserID)
			return nil
		}
		return fmt.Errorf("balance reset: %w", err)
	}
	return nil
}
