package payment

import "strings"

// Normalized provider statuses. The settlement engine only ever sees these
// three values; provider-specific spellings are mapped at this boundary.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// CheckoutRequest describes a hosted-checkout creation call.
type CheckoutRequest struct {
	RequestID   string // idempotency key, unique per checkout attempt
	UserID      uint
	PlanCode    string
	AmountCents int64
	Subject     string
}

// CheckoutResponse is the provider's answer to a checkout creation.
type CheckoutResponse struct {
	CheckoutID string
	PaymentURL string
}

// NormalizeStatus maps the many spellings providers use for trade state onto
// the three normalized statuses. Unknown values normalize to pending, which
// is retried later by a different trigger rather than treated as an error.
func NormalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "paid", "success", "succeeded", "trade_success", "finished":
		return StatusCompleted
	case "failed", "fail", "error", "trade_closed", "closed", "canceled", "cancelled", "expired":
		return StatusFailed
	default:
		return StatusPending
	}
}

// NormalizeWebhookPayload extracts the checkout id and normalized status from
// a webhook body. Providers are loose about field names, so every known alias
// is accepted here; the settlement core never branches on provider shapes.
func NormalizeWebhookPayload(payload map[string]interface{}) (checkoutID, status string) {
	for _, key := range []string{"checkout_id", "trade_no", "out_trade_no", "order_id", "transaction_id"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			checkoutID = strings.TrimSpace(v)
			break
		}
	}
	rawStatus := ""
	for _, key := range []string{"status", "trade_status", "payment_status", "state"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			rawStatus = v
			break
		}
	}
	return checkoutID, NormalizeStatus(rawStatus)
}
