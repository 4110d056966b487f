package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keyquill/keyquill/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.payvault.example.com/v1"

// Client talks to the hosted-checkout payment provider. All requests are
// signed with the merchant secret over the canonical parameter string.
type Client struct {
	MerchantID string
	APISecret  string
	NotifyURL  string
	ReturnURL  string

	APIBaseURL string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a provider client from environment configuration.
func NewClientFromEnv() *Client {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	notifyURL := strings.TrimSpace(env.GetEnv("PAYMENT_NOTIFY_URL", ""))
	if notifyURL == "" && base != "" {
		notifyURL = base + "/payments/webhook"
	}
	returnURL := strings.TrimSpace(env.GetEnv("PAYMENT_RETURN_URL", ""))
	if returnURL == "" && base != "" {
		returnURL = base + "/payments/return"
	}

	return &Client{
		MerchantID: strings.TrimSpace(env.GetEnv("PAYMENT_MERCHANT_ID", "")),
		APISecret:  strings.TrimSpace(env.GetEnv("PAYMENT_API_SECRET", "")),
		NotifyURL:  notifyURL,
		ReturnURL:  returnURL,
		APIBaseURL: strings.TrimSpace(env.GetEnv("PAYMENT_API_BASE_URL", defaultAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckout asks the provider for a hosted checkout page. The request id
// is the idempotency key: the provider returns the same checkout for a
// repeated request id instead of opening a second one.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	if strings.TrimSpace(c.MerchantID) == "" {
		return nil, errors.New("PAYMENT_MERCHANT_ID is not configured")
	}
	if strings.TrimSpace(c.APISecret) == "" {
		return nil, errors.New("PAYMENT_API_SECRET is not configured")
	}
	if req.RequestID == "" || req.AmountCents <= 0 {
		return nil, errors.New("request_id and a positive amount are required")
	}

	params := map[string]interface{}{
		"merchant_id": c.MerchantID,
		"request_id":  req.RequestID,
		"amount":      fmt.Sprintf("%d", req.AmountCents),
		"currency":    "USD",
		"subject":     req.Subject,
		"plan_code":   req.PlanCode,
		"notify_url":  c.NotifyURL,
		"return_url":  c.ReturnURL,
	}
	params[SignatureParam] = Sign(params, c.APISecret)

	var resp struct {
		CheckoutID string `json:"checkout_id"`
		PaymentURL string `json:"payment_url"`
		Message    string `json:"message"`
	}
	if err := c.postJSON(ctx, "/checkouts", params, &resp); err != nil {
		return nil, err
	}
	if resp.CheckoutID == "" || resp.PaymentURL == "" {
		return nil, fmt.Errorf("provider returned incomplete checkout: %s", resp.Message)
	}
	return &CheckoutResponse{CheckoutID: resp.CheckoutID, PaymentURL: resp.PaymentURL}, nil
}

// QueryStatus fetches the authoritative trade state for a checkout and
// returns it normalized.
func (c *Client) QueryStatus(ctx context.Context, checkoutID string) (string, error) {
	if strings.TrimSpace(checkoutID) == "" {
		return "", errors.New("checkout_id is required")
	}

	params := map[string]interface{}{
		"merchant_id": c.MerchantID,
		"checkout_id": checkoutID,
	}
	params[SignatureParam] = Sign(params, c.APISecret)

	var resp struct {
		CheckoutID string `json:"checkout_id"`
		Status     string `json:"status"`
		Message    string `json:"message"`
	}
	if err := c.postJSON(ctx, "/checkouts/status", params, &resp); err != nil {
		return "", err
	}
	return NormalizeStatus(resp.Status), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.APIBaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("provider %s returned status %d: %s", path, res.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}
