package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/davecheney/fedi/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Object is an ActivityStreams document stored under its identifier.
type Object struct {
	ID         snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Type       string         `gorm:"size:64;not null;default:''"`
	URI        string         `gorm:"size:255;not null;uniqueIndex"`
	Properties map[string]any `gorm:"serializer:json;not null"`
}

func (o *Object) BeforeSave(tx *gorm.DB) error {
	if o.URI == "" {
		return errors.New("object has no uri")
	}
	if _, err := url.Parse(o.URI); err != nil {
		return fmt.Errorf("object has invalid uri %q: %w", o.URI, err)
	}
	if o.Type == "" {
		o.Type = stringFromAny(o.Properties["type"])
	}
	if o.ID == 0 {
		// row keys are never derived from the document.
		o.ID = snowflake.Now()
	}
	return nil
}

// Objects is a key value store of documents. The last Put for an
// identifier wins.
type Objects struct {
	db *gorm.DB
}

func NewObjects(db *gorm.DB) *Objects {
	return &Objects{db: db}
}

// Put stores props under uri, replacing any previous document.
func (o *Objects) Put(uri string, props map[string]any) error {
	obj := &Object{
		URI:        uri,
		Properties: props,
	}
	return o.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uri"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "properties", "updated_at"}),
	}).Create(obj).Error
}

// Insert stores props under uri unless a document is already stored
// there. It reports whether props was stored.
func (o *Objects) Insert(uri string, props map[string]any) (bool, error) {
	res := o.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uri"}},
		DoNothing: true,
	}).Create(&Object{
		URI:        uri,
		Properties: props,
	})
	return res.RowsAffected > 0, res.Error
}

// Get returns the document stored under uri, or ErrNotFound.
func (o *Objects) Get(uri string) (map[string]any, error) {
	var obj Object
	err := o.db.Take(&obj, "uri = ?", uri).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("object %q: %w", uri, ErrNotFound)
	case err != nil:
		return nil, err
	}
	return obj.Properties, nil
}

// Exists reports whether a document is stored under uri.
func (o *Objects) Exists(uri string) (bool, error) {
	var count int64
	err := o.db.Model(&Object{}).Where("uri = ?", uri).Count(&count).Error
	return count > 0, err
}

// Delete removes the document stored under uri. Deleting a missing
// document is not an error.
func (o *Objects) Delete(uri string) error {
	return o.db.Where("uri = ?", uri).Delete(&Object{}).Error
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}
