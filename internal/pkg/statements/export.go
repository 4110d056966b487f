package statements

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/keyquill/keyquill/app/models"
)

// BuildCSV renders credit transactions as a CSV statement, oldest first.
func BuildCSV(entries []models.CreditTransaction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"date", "type", "delta", "before", "after", "description", "related_entity", "related_entity_id", "mode"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for i := range entries {
		e := &entries[i]
		record := []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Type,
			strconv.FormatInt(e.CreditsDelta, 10),
			strconv.FormatInt(e.CreditsBefore, 10),
			strconv.FormatInt(e.CreditsAfter, 10),
			e.Description,
			e.RelatedEntity,
			e.RelatedEntityID,
			e.ModeID,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportMonthly renders the user's credit activity for one calendar month and
// uploads it as a CSV statement. Returns the object key of the uploaded
// statement.
func ExportMonthly(ctx context.Context, db *gorm.DB, userID uint, year, month int) (string, error) {
	if userID == 0 {
		return "", fmt.Errorf("user_id is required")
	}
	if month < 1 || month > 12 {
		return "", fmt.Errorf("invalid month %d", month)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return "", err
	}
	if !cfg.IsEnabled() {
		return "", fmt.Errorf("statement export is disabled")
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	var entries []models.CreditTransaction
	if err := db.Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return "", fmt.Errorf("load transactions: %w", err)
	}

	body, err := BuildCSV(entries)
	if err != nil {
		return "", fmt.Errorf("render statement: %w", err)
	}

	client, err := NewClient(cfg)
	if err != nil {
		return "", err
	}

	objectKey := cfg.GetObjectKey(userID, year, month)
	if err := client.UploadStatement(ctx, objectKey, body); err != nil {
		return "", err
	}
	return objectKey, nil
}
