package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keyquill/keyquill/app/models"
)

// memRepository keeps one balance per user and reproduces the conditional
// write semantics of the GORM repository.
type memRepository struct {
	balances map[uint]*models.CreditBalance
	entries  []models.CreditTransaction
}

func newMemRepository() *memRepository {
	return &memRepository{balances: make(map[uint]*models.CreditBalance)}
}

func (r *memRepository) GetBalance(userID uint) (*models.CreditBalance, error) {
	bal, ok := r.balances[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *bal
	return &cp, nil
}

func (r *memRepository) Debit(userID uint, amount int64, entry EntryInput) (*models.CreditBalance, error) {
	bal, ok := r.balances[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if bal.UsedCredits+amount > bal.TotalCredits {
		return nil, &InsufficientCreditsError{Remaining: bal.Remaining(), Required: amount}
	}
	bal.UsedCredits += amount
	after := bal.Remaining()
	r.entries = append(r.entries, models.CreditTransaction{
		UserID: userID, Type: models.CreditTxUsage,
		CreditsDelta: -amount, CreditsBefore: after + amount, CreditsAfter: after,
		Description: entry.Description, ModeID: entry.ModeID,
	})
	cp := *bal
	return &cp, nil
}

func (r *memRepository) Credit(userID uint, amount int64, entry EntryInput) (*models.CreditBalance, error) {
	bal, ok := r.balances[userID]
	if !ok {
		bal = &models.CreditBalance{UserID: userID}
		r.balances[userID] = bal
	}
	bal.TotalCredits += amount
	if entry.Type == models.CreditTxBonus {
		bal.BonusCredits += amount
	}
	after := bal.Remaining()
	r.entries = append(r.entries, models.CreditTransaction{
		UserID: userID, Type: entry.Type,
		CreditsDelta: amount, CreditsBefore: after - amount, CreditsAfter: after,
		Description: entry.Description,
	})
	cp := *bal
	return &cp, nil
}

func (r *memRepository) Reset(userID uint, newTotal int64, nextResetAt *time.Time, entry EntryInput) (*models.CreditBalance, error) {
	bal, ok := r.balances[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	before := bal.Remaining()
	bal.TotalCredits = newTotal
	bal.UsedCredits = 0
	bal.BonusCredits = 0
	now := time.Now()
	bal.LastResetAt = &now
	bal.NextResetAt = nextResetAt
	r.entries = append(r.entries, models.CreditTransaction{
		UserID: userID, Type: models.CreditTxReset,
		CreditsDelta: newTotal - before, CreditsBefore: before, CreditsAfter: newTotal,
	})
	cp := *bal
	return &cp, nil
}

func (r *memRepository) ListTransactions(userID uint, offset, limit int) ([]models.CreditTransaction, error) {
	var out []models.CreditTransaction
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepository) SumDeltas(userID uint) (int64, error) {
	var sum int64
	for _, e := range r.entries {
		if e.UserID == userID {
			sum += e.CreditsDelta
		}
	}
	return sum, nil
}

func seedBalance(repo *memRepository, userID uint, total, used int64) {
	repo.balances[userID] = &models.CreditBalance{UserID: userID, TotalCredits: total, UsedCredits: used}
}

func TestDebitHappyPath(t *testing.T) {
	repo := newMemRepository()
	seedBalance(repo, 1, 100, 20)
	svc := NewService(repo)

	remaining, err := svc.Debit(context.Background(), 1, 5, "keyword research: generate", Provenance{ModeID: "generate"})
	if err != nil {
		t.Fatalf("Debit returned error: %v", err)
	}
	if remaining != 75 {
		t.Fatalf("remaining = %d, want 75", remaining)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	e := repo.entries[0]
	if e.Type != models.CreditTxUsage || e.CreditsDelta != -5 {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.CreditsAfter != e.CreditsBefore+e.CreditsDelta {
		t.Fatalf("entry arithmetic broken: %+v", e)
	}
}

func TestDebitInsufficientCredits(t *testing.T) {
	repo := newMemRepository()
	seedBalance(repo, 1, 10, 8)
	svc := NewService(repo)

	_, err := svc.Debit(context.Background(), 1, 5, "too much", Provenance{})
	ice, ok := IsInsufficientCredits(err)
	if !ok {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if ice.Remaining != 2 || ice.Required != 5 {
		t.Fatalf("error detail = %+v", ice)
	}
	// No partial debit, no log entry.
	bal, _ := svc.Balance(context.Background(), 1)
	if bal.UsedCredits != 8 {
		t.Fatalf("used = %d, want unchanged 8", bal.UsedCredits)
	}
	if len(repo.entries) != 0 {
		t.Fatalf("expected no transaction entries, got %d", len(repo.entries))
	}
}

func TestDebitExactHeadroom(t *testing.T) {
	repo := newMemRepository()
	seedBalance(repo, 1, 10, 8)
	svc := NewService(repo)

	remaining, err := svc.Debit(context.Background(), 1, 2, "exact", Provenance{})
	if err != nil {
		t.Fatalf("Debit returned error: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	svc := NewService(newMemRepository())
	_, err := svc.Debit(context.Background(), 99, 1, "nope", Provenance{})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDebitValidation(t *testing.T) {
	svc := NewService(newMemRepository())
	if _, err := svc.Debit(context.Background(), 0, 1, "", Provenance{}); err == nil {
		t.Fatalf("expected error for missing user id")
	}
	if _, err := svc.Debit(context.Background(), 1, 0, "", Provenance{}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
	if _, err := svc.Debit(context.Background(), 1, -5, "", Provenance{}); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}

func TestCreditCreatesAccount(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo)

	total, err := svc.Credit(context.Background(), 1, 250, models.CreditTxPurchase, "plan purchase: Starter", Provenance{RelatedEntity: "payment_order", RelatedEntityID: "CO-1"})
	if err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}
	if total != 250 {
		t.Fatalf("total = %d, want 250", total)
	}
	bal, err := svc.Balance(context.Background(), 1)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.TotalCredits != 250 || bal.UsedCredits != 0 {
		t.Fatalf("balance = %+v", bal)
	}
}

func TestCreditBonusTracksBonusCounter(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo)

	if _, err := svc.Credit(context.Background(), 1, 50, models.CreditTxBonus, "signup bonus", Provenance{}); err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}
	bal, _ := svc.Balance(context.Background(), 1)
	if bal.BonusCredits != 50 {
		t.Fatalf("bonus = %d, want 50", bal.BonusCredits)
	}
}

func TestCreditRejectsInvalidGrantType(t *testing.T) {
	svc := NewService(newMemRepository())
	if _, err := svc.Credit(context.Background(), 1, 10, models.CreditTxUsage, "", Provenance{}); err == nil {
		t.Fatalf("expected error for usage grant type")
	}
	if _, err := svc.Credit(context.Background(), 1, 10, "mystery", "", Provenance{}); err == nil {
		t.Fatalf("expected error for unknown grant type")
	}
}

func TestResetStartsFreshCycle(t *testing.T) {
	repo := newMemRepository()
	seedBalance(repo, 1, 100, 80)
	svc := NewService(repo)

	next := time.Now().AddDate(0, 1, 0)
	if err := svc.Reset(context.Background(), 1, 250, &next, "monthly credit reset (starter)"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	bal, _ := svc.Balance(context.Background(), 1)
	if bal.TotalCredits != 250 || bal.UsedCredits != 0 || bal.BonusCredits != 0 {
		t.Fatalf("balance after reset = %+v", bal)
	}
	if bal.NextResetAt == nil || !bal.NextResetAt.Equal(next) {
		t.Fatalf("next_reset_at not carried over")
	}

	last := repo.entries[len(repo.entries)-1]
	if last.Type != models.CreditTxReset {
		t.Fatalf("entry type = %q, want reset", last.Type)
	}
	if last.CreditsBefore != 20 || last.CreditsAfter != 250 {
		t.Fatalf("reset entry = %+v", last)
	}
}

func TestResetValidation(t *testing.T) {
	svc := NewService(newMemRepository())
	if err := svc.Reset(context.Background(), 0, 10, nil, ""); err == nil {
		t.Fatalf("expected error for missing user id")
	}
	if err := svc.Reset(context.Background(), 1, -1, nil, ""); err == nil {
		t.Fatalf("expected error for negative total")
	}
}

func TestHistoryClampsLimit(t *testing.T) {
	repo := newMemRepository()
	seedBalance(repo, 1, 1000, 0)
	svc := NewService(repo)
	for i := 0; i < 60; i++ {
		if _, err := svc.Debit(context.Background(), 1, 1, "tick", Provenance{}); err != nil {
			t.Fatalf("Debit %d: %v", i, err)
		}
	}

	entries, err := svc.History(context.Background(), 1, 0, 0)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(entries) != 50 {
		t.Fatalf("entries = %d, want default limit 50", len(entries))
	}

	entries, err = svc.History(context.Background(), 1, 0, 10)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("entries = %d, want 10", len(entries))
	}
}

func TestAuditRoundTripAcrossReset(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo)

	if _, err := svc.Credit(context.Background(), 1, 100, models.CreditTxPurchase, "plan purchase", Provenance{}); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := svc.Debit(context.Background(), 1, 30, "keyword research: generate", Provenance{ModeID: "generate"}); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if err := svc.Reset(context.Background(), 1, 50, nil, "monthly credit reset"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	audit, err := svc.Audit(context.Background(), 1)
	if err != nil {
		t.Fatalf("Audit returned error: %v", err)
	}
	if audit.Remaining != 50 {
		t.Fatalf("remaining = %d, want 50", audit.Remaining)
	}
	if audit.LogSum != audit.Remaining {
		t.Fatalf("log sum = %d, balance remaining = %d, want them equal", audit.LogSum, audit.Remaining)
	}
	if !audit.Consistent() {
		t.Fatalf("expected audit to report a consistent account")
	}
}

func TestAuditUnknownAccount(t *testing.T) {
	svc := NewService(newMemRepository())
	if _, err := svc.Audit(context.Background(), 1); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestSignupGrantAuditsFromFirstEntry(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo)

	// The registration flow grants the free allowance through the ledger, so
	// a brand-new account already has a log entry backing its balance.
	total, err := svc.Credit(context.Background(), 1, 25, models.CreditTxBonus, "signup allowance", Provenance{RelatedEntity: "signup"})
	if err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}
	if total != 25 {
		t.Fatalf("total = %d, want 25", total)
	}

	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1 signup grant entry", len(repo.entries))
	}
	e := repo.entries[0]
	if e.Type != models.CreditTxBonus || e.CreditsDelta != 25 || e.CreditsBefore != 0 || e.CreditsAfter != 25 {
		t.Fatalf("unexpected signup entry: %+v", e)
	}

	audit, err := svc.Audit(context.Background(), 1)
	if err != nil {
		t.Fatalf("Audit returned error: %v", err)
	}
	if !audit.Consistent() || audit.Remaining != 25 {
		t.Fatalf("audit = %+v, want consistent with remaining 25", audit)
	}
}
