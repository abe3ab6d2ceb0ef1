package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/davecheney/fedi/activitypub"
	"github.com/davecheney/fedi/models"
	"gorm.io/gorm"
)

// NewActorRefreshProcessor refetches remote actors queued for refresh,
// typically after a signature from them failed to verify.
func NewActorRefreshProcessor(svc *activitypub.Service, interval time.Duration, logger *slog.Logger) func(ctx context.Context) error {
	logger = logger.With("worker", "actor-refresh")
	return func(ctx context.Context) error {
		return loop(ctx, logger, interval, func(ctx context.Context) error {
			return RefreshActors(ctx, svc, logger)
		})
	}
}

// RefreshActors makes one pass through the actor refresh queue. Requests
// are signed as the first local account.
func RefreshActors(ctx context.Context, svc *activitypub.Service, logger *slog.Logger) error {
	signAs, err := models.NewAccounts(svc.DB().WithContext(ctx)).First()
	switch {
	case isNotFound(err):
		// no local accounts to sign with yet.
		return nil
	case err != nil:
		return err
	}
	return process(svc.DB().WithContext(ctx), actorRefreshScope, func(db *gorm.DB, request *models.ActorRefreshRequest) error {
		if request.Actor.Local {
			return nil
		}
		if _, err := svc.FetchActor(db.Statement.Context, signAs, request.Actor.URI); err != nil {
			logger.Info("refresh failed", "actor", request.Actor.URI, "error", err)
			return err
		}
		logger.Debug("refreshed", "actor", request.Actor.URI)
		return nil
	})
}

func actorRefreshScope(db *gorm.DB) *gorm.DB {
	return db.Preload("Actor").Where("attempts < 3")
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
