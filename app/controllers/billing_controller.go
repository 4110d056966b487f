package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"
	"gorm.io/gorm"

	"github.com/keyquill/keyquill/internal/pkg/billing"
	"github.com/keyquill/keyquill/internal/pkg/database"
	"github.com/keyquill/keyquill/internal/pkg/payment"
	"github.com/keyquill/keyquill/internal/pkg/settlement"
	"github.com/keyquill/keyquill/internal/pkg/usercontext"
)

type createCheckoutRequest struct {
	PlanCode string `json:"plan_code"`
}

// HandleListPlans returns the purchasable plan catalog.
func HandleListPlans(c *fiber.Ctx) error {
	svc := billing.NewServiceFromDB(database.GetDB())
	plans, err := svc.ListPlans(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plans"})
	}

	out := make([]fiber.Map, 0, len(plans))
	for i := range plans {
		p := &plans[i]
		out = append(out, fiber.Map{
			"code":             p.Code,
			"name":             p.Name,
			"price_cents":      p.PriceCents,
			"monthly_credits":  p.MonthlyCredits,
			"billing_interval": p.BillingInterval,
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}

// HandleCreateCheckout opens a provider checkout for the selected plan and
// records the pending payment order.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	var req createCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid request body"})
	}

	engine := settlement.NewEngineFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	order, err := engine.CreateOrder(ctx, userCtx.UserID, req.PlanCode)
	if err != nil {
		if strings.Contains(err.Error(), "unknown plan") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
		}
		log.Errorf("checkout creation failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Checkout could not be created"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"checkout_id": order.CheckoutID,
		"plan_code":   order.PlanCode,
		"amount":      order.AmountCents,
		"status":      order.Status,
		"payment_url": order.PaymentURL,
	})
}

// HandlePaymentWebhook receives provider payment notifications. The signature
// covers every parameter except the signature itself; an invalid signature is
// rejected before any order lookup.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil || len(params) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	signature, _ := params[payment.SignatureParam].(string)
	client := payment.NewClientFromEnv()
	if !payment.VerifySignature(params, client.APISecret, signature) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	checkoutID, status := payment.NormalizeWebhookPayload(params)
	if checkoutID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_checkout_id"})
	}

	engine := settlement.NewEngineFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := engine.Settle(ctx, checkoutID, status)
	if err != nil {
		var grantErr *settlement.GrantError
		if errors.As(err, &grantErr) {
			// The payment is acknowledged; the grant failure is recorded on the
			// order and handled by reconciliation. A provider retry would no-op.
			log.Errorf("webhook: order %s completed but grant failed: %v", checkoutID, grantErr.Err)
			return c.JSON(fiber.Map{"ok": true, "outcome": string(outcome)})
		}
		log.Errorf("webhook: settle failed for order %s: %v", checkoutID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settlement_failed"})
	}

	if outcome == settlement.OutcomeNotFound {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_order"})
	}
	return c.JSON(fiber.Map{"ok": true, "outcome": string(outcome)})
}

// HandleCheckoutReturn lands the user after the provider checkout. The return
// redirect is untrusted, so settlement always re-verifies against the
// provider before showing a result.
func HandleCheckoutReturn(c *fiber.Ctx) error {
	checkoutID := strings.TrimSpace(c.Query("checkout_id"))
	if checkoutID == "" {
		checkoutID = strings.TrimSpace(c.Query("trade_no"))
	}
	if checkoutID == "" {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Missing checkout reference"}).Redirect("/billing")
	}

	engine := settlement.NewEngineFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	outcome, err := engine.Settle(ctx, checkoutID, "")
	if err != nil {
		var grantErr *settlement.GrantError
		if errors.As(err, &grantErr) {
			log.Errorf("return: order %s completed but grant failed: %v", checkoutID, grantErr.Err)
			return flash.WithError(c, fiber.Map{"type": "error", "message": "Payment received, credits will be applied shortly"}).Redirect("/billing")
		}
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Payment verification failed, please try again"}).Redirect("/billing")
	}

	switch outcome {
	case settlement.OutcomeCompleted, settlement.OutcomeAlreadyCompleted:
		return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Payment confirmed, credits applied"}).Redirect("/billing")
	case settlement.OutcomeNotFound:
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Unknown payment order"}).Redirect("/billing")
	default:
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Payment not confirmed yet"}).Redirect("/billing")
	}
}

// HandleGetSubscription returns the caller's active subscription, if any.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	sub, err := svc.ActiveSubscription(c.Context(), userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"plan": "free", "subscription": nil})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}

	return c.JSON(fiber.Map{
		"plan": sub.PlanCode,
		"subscription": fiber.Map{
			"status":               sub.Status,
			"billing_interval":     sub.BillingInterval,
			"current_period_start": formatTimePtr(sub.CurrentPeriodStart),
			"current_period_end":   formatTimePtr(sub.CurrentPeriodEnd),
		},
	})
}
