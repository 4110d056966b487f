package entitlements

import "testing"

func TestModeAllowed(t *testing.T) {
	tests := []struct {
		plan Plan
		mode string
		want bool
	}{
		{plan: PlanFree, mode: "generate", want: true},
		{plan: PlanFree, mode: "analyze", want: false},
		{plan: PlanFree, mode: "metrics", want: false},
		{plan: PlanStarter, mode: "generate", want: true},
		{plan: PlanStarter, mode: "analyze", want: false},
		{plan: PlanStarter, mode: "metrics", want: true},
		{plan: PlanPro, mode: "analyze", want: true},
		{plan: PlanAgency, mode: "analyze", want: true},
		{plan: PlanPro, mode: "METRICS", want: true},
		{plan: PlanPro, mode: "unknown", want: false},
	}

	for _, tt := range tests {
		if got := ModeAllowed(tt.plan, tt.mode); got != tt.want {
			t.Fatalf("ModeAllowed(%q, %q) = %v, want %v", tt.plan, tt.mode, got, tt.want)
		}
	}
}

func TestMaxBatchSize(t *testing.T) {
	if MaxBatchSize(PlanFree) >= MaxBatchSize(PlanStarter) {
		t.Fatalf("expected starter batch to exceed free")
	}
	if MaxBatchSize(PlanStarter) >= MaxBatchSize(PlanPro) {
		t.Fatalf("expected pro batch to exceed starter")
	}
	if MaxBatchSize(PlanPro) >= MaxBatchSize(PlanAgency) {
		t.Fatalf("expected agency batch to exceed pro")
	}
}
