package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/keyquill/keyquill/app/repository"
	"github.com/keyquill/keyquill/internal/pkg/database"
	"github.com/keyquill/keyquill/internal/pkg/jobqueue"
	"github.com/keyquill/keyquill/internal/pkg/ledger"
	"github.com/keyquill/keyquill/internal/pkg/settlement"
)

// HandleAdminReconcile triggers one settlement reconcile sweep immediately.
func HandleAdminReconcile(c *fiber.Ctx) error {
	if err := jobqueue.GetManager().RunReconcileOnce(); err != nil {
		log.Errorf("admin reconcile sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Reconcile sweep failed"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleAdminReconcileOrder enqueues a targeted re-settlement of one order.
func HandleAdminReconcileOrder(c *fiber.Ctx) error {
	checkoutID := c.Params("checkout_id")
	if checkoutID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "checkout_id is required"})
	}

	payload := jobqueue.SettlementReconcileJobPayload{CheckoutID: checkoutID}
	job, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypeSettlementReconcile, payload.ToMap())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Job could not be enqueued"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID})
}

// HandleAdminUnfulfilledOrders lists completed orders whose grant failed.
func HandleAdminUnfulfilledOrders(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	if limit <= 0 {
		limit = 100
	}

	repo := settlement.NewOrderRepository(database.GetDB())
	orders, err := repo.ListUnfulfilled(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load orders"})
	}

	out := make([]fiber.Map, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		out = append(out, fiber.Map{
			"checkout_id": o.CheckoutID,
			"user_id":     o.UserID,
			"plan_code":   o.PlanCode,
			"amount":      o.AmountCents,
			"grant_error": o.GrantError,
			"paid_at":     formatTimePtr(o.PaidAt),
		})
	}
	return c.JSON(fiber.Map{"orders": out})
}

// HandleAdminExportStatement enqueues a monthly statement export for a user.
func HandleAdminExportStatement(c *fiber.Ctx) error {
	userID, err := strconv.Atoi(c.Params("user_id"))
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid user id"})
	}
	year, _ := strconv.Atoi(c.Query("year", "0"))
	month, _ := strconv.Atoi(c.Query("month", "0"))

	payload := jobqueue.StatementExportJobPayload{UserID: uint(userID), Year: year, Month: month}
	job, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypeStatementExport, payload.ToMap())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Job could not be enqueued"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID})
}

// HandleAdminListUsers returns a paginated user listing with usage stats.
func HandleAdminListUsers(c *fiber.Ctx) error {
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	repo := repository.GetGlobalFactory().GetUserRepository()

	var users []fiber.Map
	list, err := repo.List(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load users"})
	}
	for i := range list {
		u := &list[i]
		entry := fiber.Map{
			"id":         u.ID,
			"username":   u.Name,
			"email":      u.Email,
			"status":     u.Status,
			"role":       u.Role,
			"created_at": u.CreatedAt.UTC(),
		}
		if stats, err := repo.GetStatsByUserID(u.ID); err == nil {
			entry["research_count"] = stats.ResearchCount
			entry["credits_used"] = stats.CreditsUsed
			entry["credits_left"] = stats.CreditsLeft
		}
		users = append(users, entry)
	}

	total, err := repo.Count()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count users"})
	}
	return c.JSON(fiber.Map{"users": users, "total": total})
}

// HandleAdminAuditBalance cross-checks one user's balance row against the
// sum of their transaction log.
func HandleAdminAuditBalance(c *fiber.Ctx) error {
	userID, err := strconv.Atoi(c.Params("user_id"))
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid user id"})
	}

	audit, err := ledger.NewServiceFromDB(database.GetDB()).Audit(c.Context(), uint(userID))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No credit balance for this user"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Audit failed"})
	}
	return c.JSON(fiber.Map{
		"user_id":    userID,
		"remaining":  audit.Remaining,
		"log_sum":    audit.LogSum,
		"consistent": audit.Consistent(),
	})
}

// HandleAdminJobStats returns queue depth and per-status job counts.
func HandleAdminJobStats(c *fiber.Ctx) error {
	queue := jobqueue.GetManager().GetQueue()
	stats, err := queue.GetJobStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load job stats"})
	}
	pending, _ := queue.GetQueueSize(c.Context())
	processing, _ := queue.GetProcessingSize(c.Context())

	return c.JSON(fiber.Map{
		"stats":      stats,
		"pending":    pending,
		"processing": processing,
	})
}
