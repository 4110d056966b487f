package keywords

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/keyquill/keyquill/app/models"
	"github.com/keyquill/keyquill/internal/pkg/entitlements"
	"github.com/keyquill/keyquill/internal/pkg/ledger"
)

type ledgerCall struct {
	kind   string
	amount int64
}

type fakeLedger struct {
	calls     []ledgerCall
	remaining int64
	debitErr  error
}

func (l *fakeLedger) Debit(ctx context.Context, userID uint, amount int64, description string, prov ledger.Provenance) (int64, error) {
	if l.debitErr != nil {
		return 0, l.debitErr
	}
	l.calls = append(l.calls, ledgerCall{kind: "debit", amount: amount})
	l.remaining -= amount
	return l.remaining, nil
}

func (l *fakeLedger) Credit(ctx context.Context, userID uint, amount int64, grantType, description string, prov ledger.Provenance) (int64, error) {
	l.calls = append(l.calls, ledgerCall{kind: grantType, amount: amount})
	l.remaining += amount
	return l.remaining, nil
}

type fakeLLM struct {
	keywords []string
	err      error
	gotCount int
}

func (f *fakeLLM) GenerateKeywords(ctx context.Context, seed string, count int) ([]string, error) {
	f.gotCount = count
	return f.keywords, f.err
}

type fakeSERP struct {
	results []SERPResult
	err     error
}

func (f *fakeSERP) TopResults(ctx context.Context, keyword string, limit int) ([]SERPResult, error) {
	return f.results, f.err
}

type fakeMetrics struct {
	metrics []KeywordMetrics
	err     error
	gotKws  []string
}

func (f *fakeMetrics) Lookup(ctx context.Context, kws []string) ([]KeywordMetrics, error) {
	f.gotKws = kws
	return f.metrics, f.err
}

type fakeResearchRepo struct {
	created []*models.KeywordResearch
}

func (f *fakeResearchRepo) Create(r *models.KeywordResearch) error {
	r.ID = uint(len(f.created) + 1)
	f.created = append(f.created, r)
	return nil
}

func (f *fakeResearchRepo) ListByUser(userID uint, offset, limit int) ([]models.KeywordResearch, error) {
	var out []models.KeywordResearch
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].UserID == userID {
			out = append(out, *f.created[i])
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func fixedPlan(plan entitlements.Plan) PlanResolver {
	return func(ctx context.Context, userID uint) (entitlements.Plan, error) {
		return plan, nil
	}
}

func TestResearchGenerateDebitsAndPersists(t *testing.T) {
	l := &fakeLedger{remaining: 100}
	llm := &fakeLLM{keywords: []string{"running shoes", "trail shoes"}}
	repo := &fakeResearchRepo{}
	svc := NewService(l, llm, &fakeSERP{}, &fakeMetrics{}, repo, fixedPlan(entitlements.PlanPro))

	res, err := svc.Research(context.Background(), 1, "generate", "shoes")
	if err != nil {
		t.Fatalf("Research returned error: %v", err)
	}
	if res.Remaining != 99 {
		t.Fatalf("remaining = %d, want 99", res.Remaining)
	}
	if len(l.calls) != 1 || l.calls[0].kind != "debit" || l.calls[0].amount != 1 {
		t.Fatalf("ledger calls = %+v", l.calls)
	}
	if len(repo.created) != 1 {
		t.Fatalf("persisted researches = %d, want 1", len(repo.created))
	}
	if repo.created[0].CreditsSpent != 1 {
		t.Fatalf("credits spent = %d, want 1", repo.created[0].CreditsSpent)
	}

	var payload map[string][]string
	if err := json.Unmarshal([]byte(repo.created[0].ResultJSON), &payload); err != nil {
		t.Fatalf("result json: %v", err)
	}
	if len(payload["keywords"]) != 2 {
		t.Fatalf("result keywords = %v", payload["keywords"])
	}
}

func TestResearchBatchSizeFollowsPlan(t *testing.T) {
	llm := &fakeLLM{keywords: []string{"a"}}
	svc := NewService(&fakeLedger{remaining: 100}, llm, &fakeSERP{}, &fakeMetrics{}, &fakeResearchRepo{}, fixedPlan(entitlements.PlanFree))

	if _, err := svc.Research(context.Background(), 1, "generate", "seed"); err != nil {
		t.Fatalf("Research returned error: %v", err)
	}
	if llm.gotCount != entitlements.MaxBatchSize(entitlements.PlanFree) {
		t.Fatalf("batch size = %d, want %d", llm.gotCount, entitlements.MaxBatchSize(entitlements.PlanFree))
	}
}

func TestResearchRefundsOnProviderFailure(t *testing.T) {
	l := &fakeLedger{remaining: 100}
	llm := &fakeLLM{err: errors.New("llm timeout")}
	repo := &fakeResearchRepo{}
	svc := NewService(l, llm, &fakeSERP{}, &fakeMetrics{}, repo, fixedPlan(entitlements.PlanPro))

	if _, err := svc.Research(context.Background(), 1, "generate", "shoes"); err == nil {
		t.Fatalf("expected provider error to propagate")
	}
	if len(l.calls) != 2 {
		t.Fatalf("ledger calls = %+v, want debit then refund", l.calls)
	}
	if l.calls[1].kind != models.CreditTxRefund || l.calls[1].amount != 1 {
		t.Fatalf("refund call = %+v", l.calls[1])
	}
	if l.remaining != 100 {
		t.Fatalf("remaining = %d, want restored 100", l.remaining)
	}
	if len(repo.created) != 0 {
		t.Fatalf("expected no persisted research on failure")
	}
}

func TestResearchInsufficientCreditsDoesNotCallProvider(t *testing.T) {
	l := &fakeLedger{debitErr: &ledger.InsufficientCreditsError{Remaining: 0, Required: 5}}
	llm := &fakeLLM{keywords: []string{"a"}}
	svc := NewService(l, llm, &fakeSERP{}, &fakeMetrics{}, &fakeResearchRepo{}, fixedPlan(entitlements.PlanPro))

	_, err := svc.Research(context.Background(), 1, "analyze", "shoes")
	if _, ok := ledger.IsInsufficientCredits(err); !ok {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if llm.gotCount != 0 {
		t.Fatalf("provider must not be called when the debit fails")
	}
}

func TestResearchModeEntitlement(t *testing.T) {
	svc := NewService(&fakeLedger{remaining: 100}, &fakeLLM{}, &fakeSERP{}, &fakeMetrics{}, &fakeResearchRepo{}, fixedPlan(entitlements.PlanFree))

	if _, err := svc.Research(context.Background(), 1, "analyze", "shoes"); err == nil {
		t.Fatalf("expected analyze to be rejected on the free plan")
	}
	if _, err := svc.Research(context.Background(), 1, "metrics", "shoes"); err == nil {
		t.Fatalf("expected metrics to be rejected on the free plan")
	}
}

func TestResearchValidation(t *testing.T) {
	svc := NewService(&fakeLedger{remaining: 100}, &fakeLLM{}, &fakeSERP{}, &fakeMetrics{}, &fakeResearchRepo{}, fixedPlan(entitlements.PlanPro))

	if _, err := svc.Research(context.Background(), 0, "generate", "shoes"); err == nil {
		t.Fatalf("expected error for missing user id")
	}
	if _, err := svc.Research(context.Background(), 1, "generate", "  "); err == nil {
		t.Fatalf("expected error for empty query")
	}
	if _, err := svc.Research(context.Background(), 1, "summon", "shoes"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestResearchMetricsSplitsKeywords(t *testing.T) {
	m := &fakeMetrics{metrics: []KeywordMetrics{{Keyword: "a", Volume: 10}}}
	svc := NewService(&fakeLedger{remaining: 100}, &fakeLLM{}, &fakeSERP{}, m, &fakeResearchRepo{}, fixedPlan(entitlements.PlanStarter))

	if _, err := svc.Research(context.Background(), 1, "metrics", "a, b, , c"); err != nil {
		t.Fatalf("Research returned error: %v", err)
	}
	if fmt.Sprintf("%v", m.gotKws) != "[a b c]" {
		t.Fatalf("lookup keywords = %v", m.gotKws)
	}
}

func TestModeCost(t *testing.T) {
	tests := []struct {
		mode string
		want int64
	}{
		{mode: "generate", want: 1},
		{mode: "metrics", want: 2},
		{mode: "analyze", want: 5},
		{mode: "ANALYZE", want: 5},
		{mode: "unknown", want: 0},
	}
	for _, tt := range tests {
		if got := ModeCost(tt.mode); got != tt.want {
			t.Fatalf("ModeCost(%q) = %d, want %d", tt.mode, got, tt.want)
		}
	}
}
