package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keyquill/keyquill/app/models"
	"github.com/keyquill/keyquill/internal/pkg/ledger"
	"github.com/keyquill/keyquill/internal/pkg/payment"
)

// memOrderRepository reproduces the database's claim semantics in memory: the
// status check and the flip happen under one lock, so exactly one concurrent
// claimer wins.
type memOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*models.PaymentOrder
}

func newMemOrderRepository() *memOrderRepository {
	return &memOrderRepository{orders: make(map[string]*models.PaymentOrder)}
}

func (r *memOrderRepository) Create(order *models.PaymentOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.CheckoutID]; exists {
		return errors.New("duplicate checkout id")
	}
	cp := *order
	r.orders[order.CheckoutID] = &cp
	return nil
}

func (r *memOrderRepository) GetByCheckoutID(checkoutID string) (*models.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[checkoutID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (r *memOrderRepository) ClaimPending(checkoutID string, paidAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[checkoutID]
	if !ok || order.Status != models.OrderStatusPending {
		return false, nil
	}
	order.Status = models.OrderStatusCompleted
	order.PaidAt = &paidAt
	return true, nil
}

func (r *memOrderRepository) FailPending(checkoutID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[checkoutID]
	if !ok || order.Status != models.OrderStatusPending {
		return false, nil
	}
	order.Status = models.OrderStatusFailed
	return true, nil
}

func (r *memOrderRepository) SetGrantError(checkoutID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order, ok := r.orders[checkoutID]; ok {
		order.GrantError = message
	}
	return nil
}

func (r *memOrderRepository) ListStalePending(olderThan time.Duration, limit int) ([]models.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []models.PaymentOrder
	for _, order := range r.orders {
		if order.Status == models.OrderStatusPending && order.CreatedAt.Before(cutoff) {
			out = append(out, *order)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memOrderRepository) ListUnfulfilled(limit int) ([]models.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentOrder
	for _, order := range r.orders {
		if order.Status == models.OrderStatusCompleted && order.GrantError != "" {
			out = append(out, *order)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memOrderRepository) ListByUser(userID uint, offset, limit int) ([]models.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentOrder
	for _, order := range r.orders {
		if order.UserID == userID {
			out = append(out, *order)
		}
	}
	return out, nil
}

type recordingGranter struct {
	mu     sync.Mutex
	grants int
	fail   error
}

func (g *recordingGranter) Credit(ctx context.Context, userID uint, amount int64, grantType, description string, prov ledger.Provenance) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return 0, g.fail
	}
	g.grants++
	return amount, nil
}

func (g *recordingGranter) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grants
}

type fakeBilling struct {
	mu      sync.Mutex
	applied int
	plan    *models.BillingPlan
}

func (b *fakeBilling) GetPlan(ctx context.Context, code string) (*models.BillingPlan, error) {
	return b.plan, nil
}

func (b *fakeBilling) ApplySettlement(ctx context.Context, userID uint, plan *models.BillingPlan, paidAt time.Time) (*models.BillingSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applied++
	return &models.BillingSubscription{UserID: userID, PlanCode: plan.Code, Status: models.BillingStatusActive}, nil
}

type fakeProvider struct {
	status string
	err    error
}

func (p *fakeProvider) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &payment.CheckoutResponse{CheckoutID: "CO-" + req.RequestID, PaymentURL: "https://pay.example/" + req.RequestID}, nil
}

func (p *fakeProvider) QueryStatus(ctx context.Context, checkoutID string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.status, nil
}

func testPlan() *models.BillingPlan {
	return &models.BillingPlan{Code: "pro", Name: "Pro", PriceCents: 2900, MonthlyCredits: 1000}
}

func newTestEngine(orders OrderRepository, granter *recordingGranter, billing *fakeBilling, provider *fakeProvider) *Engine {
	return NewEngine(orders, granter, billing, provider)
}

func seedPendingOrder(t *testing.T, repo *memOrderRepository, checkoutID string) {
	t.Helper()
	err := repo.Create(&models.PaymentOrder{
		CheckoutID:  checkoutID,
		UserID:      7,
		PlanCode:    "pro",
		AmountCents: 2900,
		RequestID:   "req-" + checkoutID,
		Status:      models.OrderStatusPending,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func TestSettleCompletesOnce(t *testing.T) {
	repo := newMemOrderRepository()
	granter := &recordingGranter{}
	billing := &fakeBilling{plan: testPlan()}
	engine := newTestEngine(repo, granter, billing, &fakeProvider{status: payment.StatusCompleted})
	seedPendingOrder(t, repo, "CO-1")

	outcome, err := engine.Settle(context.Background(), "CO-1", "")
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeCompleted)
	}
	if granter.count() != 1 {
		t.Fatalf("grants = %d, want 1", granter.count())
	}

	order, _ := repo.GetByCheckoutID("CO-1")
	if order.Status != models.OrderStatusCompleted {
		t.Fatalf("order status = %q, want completed", order.Status)
	}
	if order.PaidAt == nil {
		t.Fatalf("expected paid_at to be set")
	}
}

func TestSettleIdempotent(t *testing.T) {
	repo := newMemOrderRepository()
	granter := &recordingGranter{}
	billing := &fakeBilling{plan: testPlan()}
	engine := newTestEngine(repo, granter, billing, &fakeProvider{status: payment.StatusCompleted})
	seedPendingOrder(t, repo, "CO-1")

	if _, err := engine.Settle(context.Background(), "CO-1", ""); err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	outcome, err := engine.Settle(context.Background(), "CO-1", "")
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if outcome != OutcomeAlreadyCompleted {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeAlreadyCompleted)
	}
	if granter.count() != 1 {
		t.Fatalf("grants = %d, want exactly 1 after repeat settle", granter.count())
	}
}

func TestSettleConcurrentExactlyOneGrant(t *testing.T) {
	repo := newMemOrderRepository()
	granter := &recordingGranter{}
	billing := &fakeBilling{plan: testPlan()}
	engine := newTestEngine(repo, granter, billing, &fakeProvider{status: payment.StatusCompleted})
	seedPendingOrder(t, repo, "CO-1")

	const callers = 16
	outcomes := make([]Outcome, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i], errs[i] = engine.Settle(context.Background(), "CO-1", payment.StatusCompleted)
		}(i)
	}
	close(start)
	wg.Wait()

	completed := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d returned error: %v", i, errs[i])
		}
		switch outcomes[i] {
		case OutcomeCompleted:
			completed++
		case OutcomeAlreadyCompleted:
		default:
			t.Fatalf("caller %d got unexpected outcome %q", i, outcomes[i])
		}
	}
	if completed != 1 {
		t.Fatalf("completed outcomes = %d, want exactly 1", completed)
	}
	if granter.count() != 1 {
		t.Fatalf("grants = %d, want exactly 1", granter.count())
	}
	if billing.applied != 1 {
		t.Fatalf("subscription applications = %d, want exactly 1", billing.applied)
	}
}

func TestSettleUnknownOrder(t *testing.T) {
	repo := newMemOrderRepository()
	engine := newTestEngine(repo, &recordingGranter{}, &fakeBilling{plan: testPlan()}, &fakeProvider{status: payment.StatusCompleted})

	outcome, err := engine.Settle(context.Background(), "missing", "")
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if outcome != OutcomeNotFound {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeNotFound)
	}
}

func TestSettleProviderReportsPending(t *testing.T) {
	repo := newMemOrderRepository()
	granter := &recordingGranter{}
	engine := newTestEngine(repo, granter, &fakeBilling{plan: testPlan()}, &fakeProvider{status: payment.StatusPending})
	seedPendingOrder(t, repo, "CO-1")

	outcome, err := engine.Settle(context.Background(), "CO-1", "")
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if outcome != OutcomeNotPaid {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeNotPaid)
	}
	if granter.count() != 0 {
		t.Fatalf("grants = %d, want 0 for a pending payment", granter.count())
	}

	order, _ := repo.GetByCheckoutID("CO-1")
	if order.Status != models.OrderStatusPending {
		t.Fatalf("order status = %q, want pending", order.Status)
	}
}

func TestSettleProviderReportsFailed(t *testing.T) {
	repo := newMemOrderRepository()
	granter := &recordingGranter{}
	engine := newTestEngine(repo, granter, &fakeBilling{plan: testPlan()}, &fakeProvider{status: payment.StatusFailed})
	seedPendingOrder(t, repo, "CO-1")

	outcome, err := engine.Settle(context.Background(), "CO-1", "")
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if outcome != OutcomeNotPaid {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeNotPaid)
	}

	order, _ := repo.GetByCheckoutID("CO-1")
	if order.Status != models.OrderStatusFailed {
		t.Fatalf("order status = %q, want failed", order.Status)
	}
	if granter.count() != 0 {
		t.Fatalf("grants = %d, want 0 for a failed payment", granter.count())
	}
}

func TestSettleFailedOrderStaysTerminal(t *testing.T) {
	repo := newMemOrderRepository()
	granter := &recordingGranter{}
	engine := newTestEngine(repo, granter, &fakeBilling{plan: testPlan()}, &fakeProvider{status: payment.StatusFailed})
	seedPendingOrder(t, repo, "CO-1")

	if _, err := engine.Settle(context.Background(), "CO-1", ""); err != nil {
		t.Fatalf("first Settle: %v", err)
	}

	// Even a now-completed provider status must not resurrect a failed order.
	outcome, err := engine.Settle(context.Background(), "CO-1", payment.StatusCompleted)
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if outcome != OutcomeNotPaid {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeNotPaid)
	}
	if granter.count() != 0 {
		t.Fatalf("grants = %d, want 0", granter.count())
	}
}

// staleReadOrders serves one outdated snapshot before delegating, the way a
// settle call races a concurrent claimer that flips the row right after the
// initial read.
type staleReadOrders struct {
	*memOrderRepository
	stale *models.PaymentOrder
}

func (r *staleReadOrders) GetByCheckoutID(checkoutID string) (*models.PaymentOrder, error) {
	if r.stale != nil {
		cp := *r.stale
		r.stale = nil
		return &cp, nil
	}
	return r.memOrderRepository.GetByCheckoutID(checkoutID)
}

func TestSettleFailedReportAfterLostClaimReportsCompleted(t *testing.T) {
	repo := newMemOrderRepository()
	granter := &recordingGranter{}
	seedPendingOrder(t, repo, "CO-1")

	stale, _ := repo.GetByCheckoutID("CO-1")
	// Another trigger wins the claim while this caller still holds a pending
	// snapshot of the order.
	if won, err := repo.ClaimPending("CO-1", time.Now()); err != nil || !won {
		t.Fatalf("claim seeded order: won=%v err=%v", won, err)
	}

	engine := newTestEngine(&staleReadOrders{memOrderRepository: repo, stale: stale}, granter, &fakeBilling{plan: testPlan()}, &fakeProvider{status: payment.StatusFailed})
	outcome, err := engine.Settle(context.Background(), "CO-1", payment.StatusFailed)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if outcome != OutcomeAlreadyCompleted {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeAlreadyCompleted)
	}

	order, _ := repo.GetByCheckoutID("CO-1")
	if order.Status != models.OrderStatusCompleted {
		t.Fatalf("order status = %q, want completed to survive the failed report", order.Status)
	}
}

func TestSettleGrantFailureRecordsError(t *testing.T) {
	repo := newMemOrderRepository()
	granter := &recordingGranter{fail: errors.New("ledger unavailable")}
	engine := newTestEngine(repo, granter, &fakeBilling{plan: testPlan()}, &fakeProvider{status: payment.StatusCompleted})
	seedPendingOrder(t, repo, "CO-1")

	outcome, err := engine.Settle(context.Background(), "CO-1", "")
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeCompleted)
	}
	var grantErr *GrantError
	if !errors.As(err, &grantErr) {
		t.Fatalf("expected GrantError, got %v", err)
	}
	if grantErr.CheckoutID != "CO-1" {
		t.Fatalf("GrantError checkout id = %q, want CO-1", grantErr.CheckoutID)
	}

	// The claim stands and the failure is recorded for reconciliation.
	order, _ := repo.GetByCheckoutID("CO-1")
	if order.Status != models.OrderStatusCompleted {
		t.Fatalf("order status = %q, want completed", order.Status)
	}
	if order.GrantError == "" {
		t.Fatalf("expected grant_error to be recorded")
	}
	unfulfilled, _ := repo.ListUnfulfilled(10)
	if len(unfulfilled) != 1 {
		t.Fatalf("unfulfilled orders = %d, want 1", len(unfulfilled))
	}
}

func TestSettleTrustedWebhookStatusSkipsProviderQuery(t *testing.T) {
	repo := newMemOrderRepository()
	granter := &recordingGranter{}
	// A provider that errors on every query; the trusted status must bypass it.
	engine := newTestEngine(repo, granter, &fakeBilling{plan: testPlan()}, &fakeProvider{err: errors.New("provider down")})
	seedPendingOrder(t, repo, "CO-1")

	outcome, err := engine.Settle(context.Background(), "CO-1", payment.StatusCompleted)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeCompleted)
	}
	if granter.count() != 1 {
		t.Fatalf("grants = %d, want 1", granter.count())
	}
}

func TestCreateOrderRecordsPending(t *testing.T) {
	repo := newMemOrderRepository()
	engine := newTestEngine(repo, &recordingGranter{}, &fakeBilling{plan: testPlan()}, &fakeProvider{status: payment.StatusPending})

	order, err := engine.CreateOrder(context.Background(), 7, "pro")
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Fatalf("order status = %q, want pending", order.Status)
	}
	if order.CheckoutID == "" || order.PaymentURL == "" {
		t.Fatalf("expected checkout id and payment url to be set")
	}
	if order.RequestID == "" {
		t.Fatalf("expected a generated request id")
	}
	if order.AmountCents != 2900 {
		t.Fatalf("amount = %d, want plan price", order.AmountCents)
	}

	stored, err := repo.GetByCheckoutID(order.CheckoutID)
	if err != nil {
		t.Fatalf("stored order lookup: %v", err)
	}
	if stored.UserID != 7 || stored.PlanCode != "pro" {
		t.Fatalf("stored order = %+v", stored)
	}
}

func TestCreateOrderProviderFailure(t *testing.T) {
	repo := newMemOrderRepository()
	engine := newTestEngine(repo, &recordingGranter{}, &fakeBilling{plan: testPlan()}, &fakeProvider{err: errors.New("gateway timeout")})

	if _, err := engine.CreateOrder(context.Background(), 7, "pro"); err == nil {
		t.Fatalf("expected error when checkout creation fails")
	}
	if len(repo.orders) != 0 {
		t.Fatalf("expected no order row after provider failure")
	}
}
