package keywords

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/keyquill/keyquill/app/models"
	"github.com/keyquill/keyquill/internal/pkg/entitlements"
	"github.com/keyquill/keyquill/internal/pkg/ledger"
	"github.com/keyquill/keyquill/internal/pkg/metrics/counter"
	"gorm.io/gorm"
)

// Credit cost per research mode. Costs are debited before the provider call;
// a provider failure refunds the debit so users never pay for a dead request.
var modeCosts = map[string]int64{
	models.ResearchModeGenerate: 1,
	models.ResearchModeMetrics:  2,
	models.ResearchModeAnalyze:  5,
}

// ModeCost returns the credit cost of a research mode, or 0 for unknown modes.
func ModeCost(modeID string) int64 {
	return modeCosts[strings.ToLower(strings.TrimSpace(modeID))]
}

// Debiter is the slice of the ledger the research service needs.
type Debiter interface {
	Debit(ctx context.Context, userID uint, amount int64, description string, prov ledger.Provenance) (int64, error)
	Credit(ctx context.Context, userID uint, amount int64, grantType, description string, prov ledger.Provenance) (int64, error)
}

// KeywordGenerator produces keyword ideas for a seed term.
type KeywordGenerator interface {
	GenerateKeywords(ctx context.Context, seed string, count int) ([]string, error)
}

// SERPFetcher fetches organic results for ranking analysis.
type SERPFetcher interface {
	TopResults(ctx context.Context, keyword string, limit int) ([]SERPResult, error)
}

// MetricsFetcher looks up search-volume metrics for keywords.
type MetricsFetcher interface {
	Lookup(ctx context.Context, kws []string) ([]KeywordMetrics, error)
}

// ResearchRepository persists completed research runs.
type ResearchRepository interface {
	Create(r *models.KeywordResearch) error
	ListByUser(userID uint, offset, limit int) ([]models.KeywordResearch, error)
}

// Result is the outcome of one research request.
type Result struct {
	Research  *models.KeywordResearch
	Remaining int64
}

// Service runs the keyword research pipeline: debit first, call the provider,
// persist, and refund the debit if the provider failed.
type Service struct {
	ledger  Debiter
	llm     KeywordGenerator
	serp    SERPFetcher
	metrics MetricsFetcher
	repo    ResearchRepository
	plans   PlanResolver
}

// PlanResolver supplies the caller's effective plan for entitlement checks.
type PlanResolver func(ctx context.Context, userID uint) (entitlements.Plan, error)

// NewService creates a research service from injected collaborators.
func NewService(l Debiter, llm KeywordGenerator, serp SERPFetcher, metrics MetricsFetcher, repo ResearchRepository, plans PlanResolver) *Service {
	return &Service{ledger: l, llm: llm, serp: serp, metrics: metrics, repo: repo, plans: plans}
}

// NewServiceFromDB wires the research service with the environment-configured
// provider clients.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(
		ledger.NewServiceFromDB(db),
		NewLLMClientFromEnv(),
		NewSERPClientFromEnv(),
		NewMetricsClientFromEnv(),
		NewResearchRepository(db),
		func(ctx context.Context, userID uint) (entitlements.Plan, error) {
			us, err := models.GetOrCreateUserSettings(db, userID)
			if err != nil {
				return entitlements.PlanFree, err
			}
			return entitlements.Plan(strings.ToLower(us.Plan)), nil
		},
	)
}

// Research executes one research request for the caller. The ledger debit is
// the usage event: it either succeeds and the pipeline runs, or it fails with
// insufficient credits / unknown account and nothing else happens.
func (s *Service) Research(ctx context.Context, userID uint, modeID, query string) (*Result, error) {
	modeID = strings.ToLower(strings.TrimSpace(modeID))
	query = strings.TrimSpace(query)
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	if query == "" {
		return nil, errors.New("query is required")
	}
	cost := ModeCost(modeID)
	if cost == 0 {
		return nil, fmt.Errorf("unknown research mode %q", modeID)
	}

	plan, err := s.plans(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !entitlements.ModeAllowed(plan, modeID) {
		return nil, fmt.Errorf("research mode %q is not available on the %s plan", modeID, plan)
	}

	remaining, err := s.ledger.Debit(ctx, userID, cost, "keyword research: "+modeID,
		ledger.Provenance{RelatedEntity: "keyword_research", RelatedEntityID: query, ModeID: modeID})
	if err != nil {
		return nil, err
	}

	resultJSON, err := s.run(ctx, plan, modeID, query)
	if err != nil {
		// Refund the debit; the user got nothing for it. The refund is a
		// regular grant entry so the audit trail shows both movements.
		if _, refundErr := s.ledger.Credit(ctx, userID, cost, models.CreditTxRefund,
			"refund: provider failure during "+modeID,
			ledger.Provenance{RelatedEntity: "keyword_research", RelatedEntityID: query, ModeID: modeID},
		); refundErr != nil {
			log.Printf("keywords: refund failed for user %d after provider error: %v (original: %v)", userID, refundErr, err)
		}
		return nil, err
	}

	research := &models.KeywordResearch{
		UserID:       userID,
		ModeID:       modeID,
		Query:        query,
		ResultJSON:   resultJSON,
		CreditsSpent: cost,
	}
	if err := s.repo.Create(research); err != nil {
		return nil, err
	}

	// Usage counters are best-effort; the transaction log stays authoritative.
	if err := counter.AddUsage(modeID, cost); err != nil {
		log.Printf("keywords: usage counter update failed: %v", err)
	}

	return &Result{Research: research, Remaining: remaining}, nil
}

func (s *Service) run(ctx context.Context, plan entitlements.Plan, modeID, query string) (string, error) {
	batch := entitlements.MaxBatchSize(plan)
	switch modeID {
	case models.ResearchModeGenerate:
		kws, err := s.llm.GenerateKeywords(ctx, query, batch)
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]interface{}{"keywords": kws})
	case models.ResearchModeAnalyze:
		results, err := s.serp.TopResults(ctx, query, 20)
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]interface{}{"serp": results})
	case models.ResearchModeMetrics:
		metrics, err := s.metrics.Lookup(ctx, splitKeywords(query, batch))
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]interface{}{"metrics": metrics})
	default:
		return "", fmt.Errorf("unknown research mode %q", modeID)
	}
}

// History returns the caller's past research runs, newest first.
func (s *Service) History(ctx context.Context, userID uint, offset, limit int) ([]models.KeywordResearch, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByUser(userID, offset, limit)
}

func marshalResult(v map[string]interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// splitKeywords splits a comma-separated query into at most max keywords.
func splitKeywords(query string, max int) []string {
	parts := strings.Split(query, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
		if len(out) == max {
			break
		}
	}
	return out
}
