package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/keyquill/keyquill/app/models"
	"github.com/keyquill/keyquill/internal/pkg/billing"
	"github.com/keyquill/keyquill/internal/pkg/ledger"
	"github.com/keyquill/keyquill/internal/pkg/payment"
	"gorm.io/gorm"
)

// Outcome is the normalized result of a settlement attempt. Triggers map
// these onto their own response shapes; already_completed and not_paid are
// benign no-ops, not errors.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeNotPaid          Outcome = "not_paid"
)

// ErrOrderNotFound is returned when no payment order exists for a checkout id.
var ErrOrderNotFound = errors.New("payment order not found")

// GrantError reports that the settlement claim succeeded but the credit grant
// or subscription update did not persist. The order stays completed; rerunning
// Settle will short-circuit and never retry the grant, so these must be
// surfaced loudly and resolved by manual reconciliation.
type GrantError struct {
	CheckoutID string
	Err        error
}

func (e *GrantError) Error() string {
	return fmt.Sprintf("grant failed after settlement claim for order %s: %v", e.CheckoutID, e.Err)
}

func (e *GrantError) Unwrap() error { return e.Err }

// Provider is the payment-provider boundary the engine depends on.
type Provider interface {
	CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutResponse, error)
	QueryStatus(ctx context.Context, checkoutID string) (string, error)
}

// CreditGranter is the slice of the ledger the engine needs.
type CreditGranter interface {
	Credit(ctx context.Context, userID uint, amount int64, grantType, description string, prov ledger.Provenance) (int64, error)
}

// SubscriptionApplier is the slice of the billing service the engine needs.
type SubscriptionApplier interface {
	GetPlan(ctx context.Context, code string) (*models.BillingPlan, error)
	ApplySettlement(ctx context.Context, userID uint, plan *models.BillingPlan, paidAt time.Time) (*models.BillingSubscription, error)
}

// Engine converts confirmed payments into credit grants and subscription
// updates, exactly once per order, no matter how many trigger paths invoke it
// or how often. The claim on the order row is the only serialization point;
// no lock is held across the provider call.
type Engine struct {
	orders   OrderRepository
	ledger   CreditGranter
	billing  SubscriptionApplier
	provider Provider
}

// NewEngine creates a settlement engine from injected collaborators.
func NewEngine(orders OrderRepository, granter CreditGranter, subs SubscriptionApplier, provider Provider) *Engine {
	return &Engine{orders: orders, ledger: granter, billing: subs, provider: provider}
}

// NewEngineFromDB wires the engine with GORM-backed repositories and the
// environment-configured provider client.
func NewEngineFromDB(db *gorm.DB) *Engine {
	return NewEngine(
		NewOrderRepository(db),
		ledger.NewServiceFromDB(db),
		billing.NewServiceFromDB(db),
		payment.NewClientFromEnv(),
	)
}

// CreateOrder opens a checkout with the provider and records the pending
// order. The generated request id deduplicates the creation call at the
// provider boundary; the returned checkout id is the handle Settle operates
// on later.
func (e *Engine) CreateOrder(ctx context.Context, userID uint, planCode string) (*models.PaymentOrder, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	plan, err := e.billing.GetPlan(ctx, planCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("unknown plan %q", planCode)
		}
		return nil, err
	}

	requestID := uuid.New().String()
	checkout, err := e.provider.CreateCheckout(ctx, payment.CheckoutRequest{
		RequestID:   requestID,
		UserID:      userID,
		PlanCode:    plan.Code,
		AmountCents: plan.PriceCents,
		Subject:     plan.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout creation failed: %w", err)
	}

	order := &models.PaymentOrder{
		CheckoutID:  checkout.CheckoutID,
		UserID:      userID,
		PlanCode:    plan.Code,
		AmountCents: plan.PriceCents,
		RequestID:   requestID,
		Status:      models.OrderStatusPending,
		PaymentURL:  checkout.PaymentURL,
	}
	if err := e.orders.Create(order); err != nil {
		return nil, err
	}
	return order, nil
}

// Settle drives one payment order to its terminal state. providerStatus may
// be a pre-verified status from a trusted webhook payload; when empty, the
// provider is queried live. Safe to invoke any number of times from any
// trigger: at most one invocation ever applies the grant.
func (e *Engine) Settle(ctx context.Context, checkoutID string, providerStatus string) (Outcome, error) {
	if checkoutID == "" {
		return OutcomeNotFound, ErrOrderNotFound
	}

	order, err := e.orders.GetByCheckoutID(checkoutID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return OutcomeNotFound, nil
		}
		return OutcomeNotFound, err
	}

	// Fast path. Necessary but not sufficient: two callers can both read
	// pending here, which is why the claim below is conditional.
	if order.Status == models.OrderStatusCompleted {
		return OutcomeAlreadyCompleted, nil
	}
	if order.Status == models.OrderStatusFailed {
		return OutcomeNotPaid, nil
	}

	status := payment.NormalizeStatus(providerStatus)
	if providerStatus == "" {
		status, err = e.provider.QueryStatus(ctx, checkoutID)
		if err != nil {
			return OutcomeNotPaid, fmt.Errorf("provider status query failed: %w", err)
		}
	}

	switch status {
	case payment.StatusCompleted:
		// Proceed to the claim.
	case payment.StatusFailed:
		marked, err := e.orders.FailPending(checkoutID)
		if err != nil {
			return OutcomeNotPaid, err
		}
		if !marked {
			// A concurrent claimer moved the order off pending between our
			// fast-path read and this write. Re-read so the reported outcome
			// matches the row's actual terminal state.
			if cur, err := e.orders.GetByCheckoutID(checkoutID); err == nil && cur.Status == models.OrderStatusCompleted {
				return OutcomeAlreadyCompleted, nil
			}
		}
		return OutcomeNotPaid, nil
	default:
		// Provider still reports pending. Not an error; a later trigger
		// retries the whole settle call.
		return OutcomeNotPaid, nil
	}

	// The claim. Only the caller whose conditional update flips the row wins;
	// every concurrent loser takes the already-completed path with no credit
	// or subscription writes.
	won, err := e.orders.ClaimPending(checkoutID, time.Now())
	if err != nil {
		return OutcomeNotPaid, err
	}
	if !won {
		return OutcomeAlreadyCompleted, nil
	}

	if err := e.fulfill(ctx, order); err != nil {
		// The order stays completed. Record the failure on the order and
		// surface it; automatic retry would no-op against the claim.
		if setErr := e.orders.SetGrantError(checkoutID, err.Error()); setErr != nil {
			log.Printf("settlement: failed to record grant error for order %s: %v", checkoutID, setErr)
		}
		return OutcomeCompleted, &GrantError{CheckoutID: checkoutID, Err: err}
	}
	return OutcomeCompleted, nil
}

func (e *Engine) fulfill(ctx context.Context, order *models.PaymentOrder) error {
	plan, err := e.billing.GetPlan(ctx, order.PlanCode)
	if err != nil {
		return fmt.Errorf("plan lookup: %w", err)
	}

	if _, err := e.ledger.Credit(ctx, order.UserID, plan.MonthlyCredits,
		models.CreditTxPurchase, "plan purchase: "+plan.Name,
		ledger.Provenance{RelatedEntity: "payment_order", RelatedEntityID: order.CheckoutID},
	); err != nil {
		return fmt.Errorf("credit grant: %w", err)
	}

	if _, err := e.billing.ApplySettlement(ctx, order.UserID, plan, time.Now()); err != nil {
		return fmt.Errorf("subscription update: %w", err)
	}
	return nil
}

// Orders exposes the order repository for trigger adapters and jobs.
func (e *Engine) Orders() OrderRepository {
	return e.orders
}
