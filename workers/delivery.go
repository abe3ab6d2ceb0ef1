package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/davecheney/fedi/activitypub"
	"github.com/davecheney/fedi/models"
	"gorm.io/gorm"
)

// NewDeliveryProcessor retries queued deliveries until they succeed or
// have been attempted maxAttempts times.
func NewDeliveryProcessor(db *gorm.DB, deliverer activitypub.Deliverer, maxAttempts int, interval time.Duration, logger *slog.Logger) func(ctx context.Context) error {
	logger = logger.With("worker", "delivery")
	return func(ctx context.Context) error {
		return loop(ctx, logger, interval, func(ctx context.Context) error {
			return ProcessDeliveries(ctx, db, deliverer, maxAttempts, logger)
		})
	}
}

// ProcessDeliveries makes one pass through the delivery queue.
func ProcessDeliveries(ctx context.Context, db *gorm.DB, deliverer activitypub.Deliverer, maxAttempts int, logger *slog.Logger) error {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Preload("Account").Preload("Account.Actor").Where("attempts < ?", maxAttempts)
	}
	return process(db.WithContext(ctx), scope, func(db *gorm.DB, request *models.DeliveryRequest) error {
		err := deliverer.Deliver(db.Statement.Context, request.Account, request.Inbox, request.Activity)
		if err != nil {
			logger.Info("redelivery failed", "inbox", request.Inbox, "activity", request.ActivityURI, "attempts", request.Attempts+1, "error", err)
			return err
		}
		logger.Debug("redelivered", "inbox", request.Inbox, "activity", request.ActivityURI)
		return nil
	})
}
