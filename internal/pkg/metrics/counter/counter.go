package counter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keyquill/keyquill/app/models"
	"github.com/keyquill/keyquill/internal/pkg/cache"
	"github.com/keyquill/keyquill/internal/pkg/database"
	"gorm.io/gorm"
)

const (
	usageCreditsKey  = "usage:counters:credits"
	usageRequestsKey = "usage:counters:requests"
)

// AddUsage increments the pending per-mode usage counters for today in Redis
func AddUsage(modeID string, credits int64) error {
	ctx := context.Background()
	field := fieldFor(modeID)
	rdb := cache.GetClient()
	if err := rdb.HIncrBy(ctx, usageCreditsKey, field, credits).Err(); err != nil {
		return err
	}
	return rdb.HIncrBy(ctx, usageRequestsKey, field, 1).Err()
}

// FlushAll flushes buffered usage counters to the database
func FlushAll() error {
	if err := flushHashToStats(usageCreditsKey, "credits"); err != nil {
		return err
	}
	return flushHashToStats(usageRequestsKey, "requests")
}

// flushHashToStats drains a Redis hash atomically and applies batched increments
// to daily_usage_stats. Uses RENAME to a temporary key for atomic drain without
// losing in-flight increments.
func flushHashToStats(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}
	defer rdb.Del(ctx, tmpKey)

	entries, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	db := database.GetDB()
	for field, value := range entries {
		date, modeID, ok := parseField(field)
		if !ok {
			continue
		}
		row := models.DailyUsageStat{Date: date, ModeID: modeID}
		if err := db.Where("date = ? AND mode_id = ?", date, modeID).FirstOrCreate(&row).Error; err != nil {
			return err
		}
		if err := db.Model(&models.DailyUsageStat{}).
			Where("id = ?", row.ID).
			Update(column, gorm.Expr(column+" + ?", value)).Error; err != nil {
			return err
		}
	}
	return nil
}

func fieldFor(modeID string) string {
	return time.Now().UTC().Format("2006-01-02") + ":" + strings.ToLower(strings.TrimSpace(modeID))
}

func parseField(field string) (time.Time, string, bool) {
	parts := strings.SplitN(field, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", false
	}
	date, err := time.Parse("2006-01-02", parts[0])
	if err != nil {
		return time.Time{}, "", false
	}
	return date, parts[1], true
}
