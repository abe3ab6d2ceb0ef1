package models

import (
	"time"

	"github.com/davecheney/fedi/internal/snowflake"
	"gorm.io/gorm"
)

// InboxState is the outcome of processing a delivered activity.
type InboxState string

const (
	Handled  InboxState = "handled"
	Ignored  InboxState = "ignored"
	Rejected InboxState = "rejected"
)

// InboxRecord logs an activity delivered to a local actor. The
// recipient and activity pair is unique, which makes delivery idempotent.
type InboxRecord struct {
	ID           snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	RecipientURI string     `gorm:"size:255;not null;uniqueIndex:idx_inbox_record"`
	ActivityURI  string     `gorm:"size:255;not null;uniqueIndex:idx_inbox_record"`
	ActorURI     string     `gorm:"size:255;not null"`
	Type         string     `gorm:"size:64;not null"`
	State        InboxState `gorm:"size:16;not null"`
	Reason       string     `gorm:"type:text"`
}

type InboxRecords struct {
	db *gorm.DB
}

func NewInboxRecords(db *gorm.DB) *InboxRecords {
	return &InboxRecords{db: db}
}

// Seen reports whether activity has already been delivered to recipient.
func (r *InboxRecords) Seen(recipient, activity string) (bool, error) {
	var count int64
	err := r.db.Model(&InboxRecord{}).Where("recipient_uri = ? AND activity_uri = ?", recipient, activity).Count(&count).Error
	return count > 0, err
}

// Find returns the record of activity's delivery to recipient.
func (r *InboxRecords) Find(recipient, activity string) (*InboxRecord, error) {
	var rec InboxRecord
	return &rec, notFound(r.db.Where("recipient_uri = ? AND activity_uri = ?", recipient, activity).Take(&rec).Error)
}

// Record logs the delivery.
func (r *InboxRecords) Record(rec *InboxRecord) error {
	if rec.ID == 0 {
		rec.ID = snowflake.Now()
	}
	return r.db.Create(rec).Error
}

// SetState updates the outcome of a logged delivery.
func (r *InboxRecords) SetState(rec *InboxRecord, state InboxState, reason string) error {
	rec.State = state
	rec.Reason = reason
	return r.db.Model(rec).Updates(map[string]any{
		"state":  state,
		"reason": reason,
	}).Error
}
