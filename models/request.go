package models

import (
	"time"

	"github.com/davecheney/fedi/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Request is the retry bookkeeping shared by queued work.
type Request struct {
	ID uint32 `gorm:"primarykey;"`
	// CreatedAt is the time the request was created.
	CreatedAt time.Time
	// UpdatedAt is the time the request was last updated.
	UpdatedAt time.Time
	// Attempts is the number of times the request has been attempted.
	Attempts uint32 `gorm:"not null;default:0"`
	// LastAttempt is the time the request was last attempted.
	LastAttempt time.Time
	// LastResult is the result of the last attempt if it failed.
	LastResult string `gorm:"type:text;"`
}

// DeliveryRequest is a delivery that failed and waits to be retried.
type DeliveryRequest struct {
	Request
	// AccountID is the account the delivery is signed by.
	AccountID snowflake.ID `gorm:"not null;index"`
	Account   *Account     `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	// Inbox is the recipient's inbox URL.
	Inbox string `gorm:"size:255;not null"`
	// ActivityURI is the identifier of the delivered activity.
	ActivityURI string         `gorm:"size:255;not null"`
	Activity    map[string]any `gorm:"serializer:json;not null"`
}

type DeliveryRequests struct {
	db *gorm.DB
}

func NewDeliveryRequests(db *gorm.DB) *DeliveryRequests {
	return &DeliveryRequests{db: db}
}

// Enqueue queues activity for redelivery to inbox.
func (d *DeliveryRequests) Enqueue(account *Account, inbox string, activity map[string]any) error {
	return d.db.Create(&DeliveryRequest{
		AccountID:   account.ID,
		Inbox:       inbox,
		ActivityURI: stringFromAny(activity["id"]),
		Activity:    activity,
	}).Error
}

// ActorRefreshRequest is a request to refetch a remote actor's document.
type ActorRefreshRequest struct {
	Request
	// ActorID is the ID of the actor to refresh.
	ActorID snowflake.ID `gorm:"uniqueIndex;not null;"`
	// Actor is the actor to refresh.
	Actor *Actor `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
}

// Refresh schedules a refetch of a remote actor. Scheduling an actor
// already queued resets its attempts.
func (a *Actors) Refresh(actor *Actor) error {
	db := a.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "actor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at",
			"attempts",
		}),
	})
	return db.Create(&ActorRefreshRequest{ActorID: actor.ID}).Error
}
