package entitlements

import "strings"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanAgency  Plan = "agency"
)

// AllowedModes returns which research modes are available on a given plan
func AllowedModes(plan Plan) (generate, analyze, metrics bool) {
	switch plan {
	case PlanAgency, PlanPro:
		return true, true, true
	case PlanStarter:
		return true, false, true
	default:
		return true, false, false
	}
}

// ModeAllowed reports whether a specific research mode is available on the plan.
func ModeAllowed(plan Plan, modeID string) bool {
	generate, analyze, metrics := AllowedModes(plan)
	switch strings.ToLower(strings.TrimSpace(modeID)) {
	case "generate":
		return generate
	case "analyze":
		return analyze
	case "metrics":
		return metrics
	default:
		return false
	}
}

// MaxBatchSize returns the per-request keyword batch ceiling for a plan.
func MaxBatchSize(plan Plan) int {
	switch plan {
	case PlanAgency:
		return 500
	case PlanPro:
		return 200
	case PlanStarter:
		return 50
	default:
		return 10
	}
}
