package billing

import (
	"strings"

	"github.com/keyquill/keyquill/app/models"
	"github.com/keyquill/keyquill/internal/pkg/entitlements"
)

func normalizePlan(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(entitlements.PlanStarter):
		return string(entitlements.PlanStarter)
	case string(entitlements.PlanPro):
		return string(entitlements.PlanPro)
	case string(entitlements.PlanAgency):
		return string(entitlements.PlanAgency)
	default:
		return string(entitlements.PlanFree)
	}
}

func planRank(plan string) int {
	switch normalizePlan(plan) {
	case string(entitlements.PlanAgency):
		return 3
	case string(entitlements.PlanPro):
		return 2
	case string(entitlements.PlanStarter):
		return 1
	default:
		return 0
	}
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return i
	default:
		return models.BillingIntervalUnknown
	}
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.BillingStatusActive, models.BillingStatusPastDue:
		return true
	default:
		return false
	}
}
