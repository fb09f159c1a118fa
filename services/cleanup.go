package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"goodsale/database"
	"goodsale/handlers"
)

// StartCleanupService starts a background maintenance service that runs every hour
func StartCleanupService(db database.Database, notifier *LINENotifier) {
	go func() {
		ctx := context.Background()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		// Run initial pass
		RunCleanupTasks(ctx, db, notifier)

		for range ticker.C {
			RunCleanupTasks(ctx, db, notifier)
		}
	}()
}

// RunCleanupTasks performs the hourly maintenance pass
func RunCleanupTasks(ctx context.Context, db database.Database, notifier *LINENotifier) {
	log.Println("🧹 Running scheduled maintenance tasks...")

	// Note: pending QR payments expire via Redis TTL

	// Reset failed login attempts for users who are no longer locked
	result, err := db.Exec(ctx, `
		UPDATE users
		SET failed_attempts = 0, locked_until = NULL
		WHERE locked_until IS NOT NULL AND locked_until < NOW()
	`)
	if err != nil {
		log.Printf("⚠️ Failed to reset failed login attempts: %v", err)
	} else if result.RowsAffected() > 0 {
		log.Printf("✅ Reset failed login attempts for %d users", result.RowsAffected())
	}

	// Expire subscriptions past their end date
	result, err = db.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'expired'
		WHERE status = 'active' AND expires_at < NOW()
	`)
	if err != nil {
		log.Printf("⚠️ Failed to expire subscriptions: %v", err)
	} else if result.RowsAffected() > 0 {
		log.Printf("✅ Expired %d subscriptions", result.RowsAffected())
	}

	// Deactivate advertisements whose display window ended
	result, err = db.Exec(ctx, `
		UPDATE advertisements
		SET is_active = false
		WHERE is_active = true AND end_date IS NOT NULL AND end_date < NOW()
	`)
	if err != nil {
		log.Printf("⚠️ Failed to deactivate ended advertisements: %v", err)
	} else if result.RowsAffected() > 0 {
		log.Printf("✅ Deactivated %d ended advertisements", result.RowsAffected())
	}

	AutoCloseStores(ctx, db, notifier)

	log.Println("🎯 Maintenance tasks completed")
}

// AutoCloseStores closes open stores that are past their configured closing
// time and records their daily summaries.
func AutoCloseStores(ctx context.Context, db database.Database, notifier *LINENotifier) {
	rows, err := db.Query(ctx, `
		SELECT id, name FROM stores
		WHERE is_open = true AND deleted_at IS NULL
		  AND closing_time IS NOT NULL
		  AND closing_time < LOCALTIME`)
	if err != nil {
		log.Printf("⚠️ Failed to query stores for auto-close: %v", err)
		return
	}

	type storeRef struct {
		id   uuid.UUID
		name string
	}
	var due []storeRef
	for rows.Next() {
		var ref storeRef
		if err := rows.Scan(&ref.id, &ref.name); err == nil {
			due = append(due, ref)
		}
	}
	rows.Close()

	for _, ref := range due {
		summary, err := handlers.CloseStoreForBusiness(ctx, db, ref.id)
		if err != nil {
			log.Printf("⚠️ Failed to auto-close store %s: %v", ref.id, err)
			continue
		}
		orders, _ := summary["total_orders"].(int)
		revenue, _ := summary["total_revenue"].(float64)
		log.Printf("✅ Auto-closed store %s (%d orders, %.2f THB)", ref.name, orders, revenue)
		notifier.NotifyDailySummary(ctx, ref.name, orders, revenue)
	}
}
