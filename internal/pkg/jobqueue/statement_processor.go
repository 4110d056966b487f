package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/keyquill/keyquill/internal/pkg/database"
	"github.com/keyquill/keyquill/internal/pkg/statements"
)

// processStatementExportJob renders a user's monthly credit statement and
// uploads it to S3
func (q *Queue) processStatementExportJob(ctx context.Context, job *Job) error {
	payload, err := StatementExportJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid statement export payload: %w", err)
	}
	if payload.UserID == 0 {
		return fmt.Errorf("statement export payload missing user_id")
	}

	// Default to the previous calendar month
	year, month := payload.Year, payload.Month
	if year == 0 || month == 0 {
		prev := time.Now().UTC().AddDate(0, -1, 0)
		year, month = prev.Year(), int(prev.Month())
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	objectKey, err := statements.ExportMonthly(ctx, db, payload.UserID, year, month)
	if err != nil {
		return err
	}

	log.Infof("[Statements] Exported statement for user %d: %s", payload.UserID, objectKey)
	return nil
}
