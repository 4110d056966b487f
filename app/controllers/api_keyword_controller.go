package controllers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/keyquill/keyquill/internal/pkg/database"
	"github.com/keyquill/keyquill/internal/pkg/keywords"
	"github.com/keyquill/keyquill/internal/pkg/ledger"
	"github.com/keyquill/keyquill/internal/pkg/usercontext"
)

type researchRequest struct {
	Mode  string `json:"mode"`
	Query string `json:"query"`
}

// HandleKeywordResearch runs one research request for the authenticated
// caller. Each run debits the caller's credit balance up front; on
// insufficient credits the request is rejected with 402 before any provider
// is contacted.
func HandleKeywordResearch(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req researchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid request body"})
	}

	svc := keywords.NewServiceFromDB(database.GetDB())
	result, err := svc.Research(c.Context(), userCtx.UserID, req.Mode, req.Query)
	if err != nil {
		if insufficient, ok := ledger.IsInsufficientCredits(err); ok {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":     "insufficient_credits",
				"message":   "Not enough credits for this request",
				"remaining": insufficient.Remaining,
				"required":  insufficient.Required,
			})
		}
		if err == ledger.ErrAccountNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No credit account for this user"})
		}
		if strings.Contains(err.Error(), "not available on the") {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": err.Error()})
		}
		if strings.Contains(err.Error(), "unknown research mode") || strings.Contains(err.Error(), "is required") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
		}
		log.Errorf("research failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Research provider unavailable, credits refunded"})
	}

	var payload interface{}
	if err := json.Unmarshal([]byte(result.Research.ResultJSON), &payload); err != nil {
		payload = result.Research.ResultJSON
	}

	return c.JSON(fiber.Map{
		"id":                result.Research.ID,
		"mode":              result.Research.ModeID,
		"query":             result.Research.Query,
		"result":            payload,
		"credits_spent":     result.Research.CreditsSpent,
		"credits_remaining": result.Remaining,
	})
}

// HandleResearchHistory returns the caller's past research runs, newest first.
func HandleResearchHistory(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	svc := keywords.NewServiceFromDB(database.GetDB())
	entries, err := svc.History(c.Context(), userCtx.UserID, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load history"})
	}

	out := make([]fiber.Map, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, fiber.Map{
			"id":            e.ID,
			"mode":          e.ModeID,
			"query":         e.Query,
			"credits_spent": e.CreditsSpent,
			"created_at":    e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"history": out})
}
