package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/keyquill/keyquill/internal/pkg/database"
	"github.com/keyquill/keyquill/internal/pkg/settlement"
)

const (
	// Pending orders younger than this are still expected to settle via webhook
	stalePendingAge = 15 * time.Minute
	reconcileBatch  = 100
)

// processSettlementReconcileJob re-drives a single order through settlement
// with a live provider status query
func (q *Queue) processSettlementReconcileJob(ctx context.Context, job *Job) error {
	payload, err := SettlementReconcileJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid settlement reconcile payload: %w", err)
	}
	if payload.CheckoutID == "" {
		return fmt.Errorf("settlement reconcile payload missing checkout_id")
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	engine := settlement.NewEngineFromDB(db)
	outcome, err := engine.Settle(ctx, payload.CheckoutID, "")
	if err != nil {
		var grantErr *settlement.GrantError
		if errors.As(err, &grantErr) {
			// The order is completed but the grant did not persist. Retrying the
			// job cannot re-claim the order; the failure is recorded on the row
			// and surfaces via the unfulfilled listing.
			log.Errorf("[Reconcile] Order %s completed but grant failed: %v", payload.CheckoutID, grantErr.Err)
			return nil
		}
		return err
	}

	log.Infof("[Reconcile] Order %s settled with outcome %s", payload.CheckoutID, outcome)
	return nil
}

// ReconcileStalePending sweeps pending orders the webhook never confirmed and
// settles each against a live provider status query. Called periodically by
// the manager.
func (q *Queue) ReconcileStalePending() error {
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	engine := settlement.NewEngineFromDB(db)
	ctx := context.Background()

	orders, err := engine.Orders().ListStalePending(stalePendingAge, reconcileBatch)
	if err != nil {
		return fmt.Errorf("list stale pending orders: %w", err)
	}

	settled := 0
	for i := range orders {
		order := &orders[i]
		outcome, err := engine.Settle(ctx, order.CheckoutID, "")
		if err != nil {
			var grantErr *settlement.GrantError
			if errors.As(err, &grantErr) {
				log.Errorf("[Reconcile] Order %s completed but grant failed: %v", order.CheckoutID, grantErr.Err)
				continue
			}
			log.Errorf("[Reconcile] Order %s settle error: %v", order.CheckoutID, err)
			continue
		}
		if outcome == settlement.OutcomeCompleted {
			settled++
		}
	}
	if len(orders) > 0 {
		log.Infof("[Reconcile] Swept %d stale pending orders, %d newly settled", len(orders), settled)
	}

	// Completed orders with a recorded grant failure need operator attention.
	unfulfilled, err := engine.Orders().ListUnfulfilled(reconcileBatch)
	if err != nil {
		return fmt.Errorf("list unfulfilled orders: %w", err)
	}
	for i := range unfulfilled {
		log.Warnf("[Reconcile] Order %s (user %d) paid but unfulfilled: %s",
			unfulfilled[i].CheckoutID, unfulfilled[i].UserID, unfulfilled[i].GrantError)
	}

	return nil
}
