package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/keyquill/keyquill/internal/pkg/database"
	"github.com/keyquill/keyquill/internal/pkg/ledger"
	"github.com/keyquill/keyquill/internal/pkg/usercontext"
)

// HandleGetCredits returns the caller's credit balance.
func HandleGetCredits(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	svc := ledger.NewServiceFromDB(database.GetDB())
	balance, err := svc.Balance(c.Context(), userCtx.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No credit account for this user"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load balance"})
	}

	return c.JSON(fiber.Map{
		"total_credits": balance.TotalCredits,
		"used_credits":  balance.UsedCredits,
		"bonus_credits": balance.BonusCredits,
		"remaining":     balance.Remaining(),
		"last_reset_at": formatTimePtr(balance.LastResetAt),
		"next_reset_at": formatTimePtr(balance.NextResetAt),
	})
}

// HandleListCreditTransactions returns the caller's credit audit trail,
// newest first.
func HandleListCreditTransactions(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	svc := ledger.NewServiceFromDB(database.GetDB())
	entries, err := svc.History(c.Context(), userCtx.UserID, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load transactions"})
	}

	out := make([]fiber.Map, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, fiber.Map{
			"id":             e.ID,
			"type":           e.Type,
			"credits_delta":  e.CreditsDelta,
			"credits_before": e.CreditsBefore,
			"credits_after":  e.CreditsAfter,
			"description":    e.Description,
			"mode":           e.ModeID,
			"created_at":     e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"transactions": out})
}
