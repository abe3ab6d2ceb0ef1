package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/davecheney/fedi/internal/snowflake"
	"gorm.io/gorm"
)

// CollectionKind names one of an actor's collections, or one of the
// collections of a local object.
type CollectionKind string

const (
	Followers CollectionKind = "followers"
	Following CollectionKind = "following"
	Liked     CollectionKind = "liked"
	Outbox    CollectionKind = "outbox"
	Inbox     CollectionKind = "inbox"

	// Likes and Shares belong to objects, not actors. Their items are the
	// Like and Announce activities received for the object.
	Likes  CollectionKind = "likes"
	Shares CollectionKind = "shares"
)

// IsSet reports whether the collection holds each item at most once.
// Outbox and inbox are logs and always append.
func (k CollectionKind) IsSet() bool {
	switch k {
	case Followers, Following, Liked, Likes, Shares:
		return true
	default:
		return false
	}
}

// Collection is the header row of a collection. ActorURI is the owning
// actor, or the object for Likes and Shares.
type Collection struct {
	ID           snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ActorURI     string           `gorm:"size:255;not null;uniqueIndex:idx_collection_actor_kind"`
	Kind         CollectionKind   `gorm:"size:16;not null;uniqueIndex:idx_collection_actor_kind"`
	TotalItems   int64            `gorm:"not null;default:0"`
	LastPosition uint64           `gorm:"not null;default:0"`
	Items        []CollectionItem `gorm:"constraint:OnDelete:CASCADE;"`
}

// CollectionItem is a member of a Collection. Position is assigned from the
// collection's LastPosition and is never reused.
type CollectionItem struct {
	CollectionID snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	Position     uint64       `gorm:"primarykey;autoIncrement:false"`
	CreatedAt    time.Time
	URI          string `gorm:"size:255;not null;index"`
}

// Cursor marks a position in a collection. The zero Cursor is the start.
type Cursor uint64

func (c Cursor) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// ParseCursor parses a cursor previously returned in a Page. The empty
// string is the start of the collection.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q", s)
	}
	return Cursor(v), nil
}

// Page is a window over a collection read in a single transaction.
type Page struct {
	// TotalItems is the size of the whole collection when the page was read.
	TotalItems int64
	// Items are the item identifiers, oldest first.
	Items []string
	// Next is the cursor of the following page, valid when HasNext is true.
	Next    Cursor
	HasNext bool
}

// Collections manages actor collections. Every mutation of an actor's
// collections runs while holding that actor's lock.
type Collections struct {
	db    *gorm.DB
	locks *keyedMutex
}

func NewCollections(db *gorm.DB) *Collections {
	return &Collections{
		db:    db,
		locks: newKeyedMutex(),
	}
}

// Mutation is the view of an actor's collections handed to Mutate.
type Mutation struct {
	tx    *gorm.DB
	actor string
}

// Object returns the mutation of the collections of the object uri. The
// object must belong to the locked actor.
func (m *Mutation) Object(uri string) *Mutation {
	return &Mutation{tx: m.tx, actor: uri}
}

// Tx returns the transaction the mutation runs in. Callers inside Mutate
// must use it for every other read and write.
func (m *Mutation) Tx() *gorm.DB {
	return m.tx
}

// Mutate locks actorURI, opens a transaction, and calls fn. The transaction
// commits when fn returns nil.
func (c *Collections) Mutate(ctx context.Context, actorURI string, fn func(*Mutation) error) error {
	unlock := c.locks.Lock(actorURI)
	defer unlock()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Mutation{tx: tx, actor: actorURI})
	})
}

// Create creates empty collections of the given kinds. Existing
// collections are left untouched.
func (m *Mutation) Create(kinds ...CollectionKind) error {
	for _, kind := range kinds {
		if _, err := m.collection(kind); err != nil {
			return err
		}
	}
	return nil
}

// Append adds item to the collection. For set collections it reports false,
// and changes nothing, when item is already present.
func (m *Mutation) Append(kind CollectionKind, item string) (bool, error) {
	coll, err := m.collection(kind)
	if err != nil {
		return false, err
	}
	if kind.IsSet() {
		ok, err := m.contains(coll, item)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	pos := coll.LastPosition + 1
	if err := m.tx.Create(&CollectionItem{
		CollectionID: coll.ID,
		Position:     pos,
		URI:          item,
	}).Error; err != nil {
		return false, err
	}
	return true, m.tx.Model(coll).Updates(map[string]any{
		"last_position": pos,
		"total_items":   gorm.Expr("total_items + 1"),
	}).Error
}

// Remove removes item from the collection and reports whether it was present.
func (m *Mutation) Remove(kind CollectionKind, item string) (bool, error) {
	coll, err := m.collection(kind)
	if err != nil {
		return false, err
	}
	res := m.tx.Where("collection_id = ? AND uri = ?", coll.ID, item).Delete(&CollectionItem{})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, m.tx.Model(coll).Update("total_items", gorm.Expr("total_items - ?", res.RowsAffected)).Error
}

// Contains reports whether item is in the collection.
func (m *Mutation) Contains(kind CollectionKind, item string) (bool, error) {
	coll, err := m.collection(kind)
	if err != nil {
		return false, err
	}
	return m.contains(coll, item)
}

func (m *Mutation) contains(coll *Collection, item string) (bool, error) {
	var count int64
	err := m.tx.Model(&CollectionItem{}).Where("collection_id = ? AND uri = ?", coll.ID, item).Count(&count).Error
	return count > 0, err
}

// collection returns the header row for kind, creating it on first use.
func (m *Mutation) collection(kind CollectionKind) (*Collection, error) {
	var coll Collection
	err := m.tx.Take(&coll, "actor_uri = ? AND kind = ?", m.actor, kind).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		coll = Collection{
			ID:       snowflake.Now(),
			ActorURI: m.actor,
			Kind:     kind,
		}
		err = m.tx.Create(&coll).Error
	}
	return &coll, err
}

// Append adds item to the actor's collection under the actor's lock.
func (c *Collections) Append(ctx context.Context, actorURI string, kind CollectionKind, item string) (bool, error) {
	var added bool
	err := c.Mutate(ctx, actorURI, func(m *Mutation) error {
		var err error
		added, err = m.Append(kind, item)
		return err
	})
	return added, err
}

// Remove removes item from the actor's collection under the actor's lock.
func (c *Collections) Remove(ctx context.Context, actorURI string, kind CollectionKind, item string) (bool, error) {
	var removed bool
	err := c.Mutate(ctx, actorURI, func(m *Mutation) error {
		var err error
		removed, err = m.Remove(kind, item)
		return err
	})
	return removed, err
}

// Contains reports whether item is in the actor's collection.
func (c *Collections) Contains(ctx context.Context, actorURI string, kind CollectionKind, item string) (bool, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&CollectionItem{}).
		Joins("JOIN collections ON collections.id = collection_items.collection_id").
		Where("collections.actor_uri = ? AND collections.kind = ? AND collection_items.uri = ?", actorURI, kind, item).
		Count(&count).Error
	return count > 0, err
}

// Count returns the number of items in the actor's collection. Missing
// collections are empty.
func (c *Collections) Count(ctx context.Context, actorURI string, kind CollectionKind) (int64, error) {
	var colls []Collection
	if err := c.db.WithContext(ctx).Where("actor_uri = ? AND kind = ?", actorURI, kind).Limit(1).Find(&colls).Error; err != nil {
		return 0, err
	}
	if len(colls) == 0 {
		return 0, nil
	}
	return colls[0].TotalItems, nil
}

// Items returns every item of the actor's collection, oldest first.
func (c *Collections) Items(ctx context.Context, actorURI string, kind CollectionKind) ([]string, error) {
	var items []string
	err := c.db.WithContext(ctx).Model(&CollectionItem{}).
		Joins("JOIN collections ON collections.id = collection_items.collection_id").
		Where("collections.actor_uri = ? AND collections.kind = ?", actorURI, kind).
		Order("collection_items.position ASC").
		Pluck("collection_items.uri", &items).Error
	return items, err
}

// Page returns up to size items following cursor. The count and the items
// are read in the same transaction.
func (c *Collections) Page(ctx context.Context, actorURI string, kind CollectionKind, cursor Cursor, size int) (*Page, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid page size %d", size)
	}
	page := Page{Items: []string{}}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var colls []Collection
		if err := tx.Where("actor_uri = ? AND kind = ?", actorURI, kind).Limit(1).Find(&colls).Error; err != nil {
			return err
		}
		if len(colls) == 0 {
			return nil
		}
		coll := colls[0]
		page.TotalItems = coll.TotalItems

		var items []CollectionItem
		if err := tx.Where("collection_id = ? AND position > ?", coll.ID, uint64(cursor)).
			Order("position ASC").
			Limit(size + 1).
			Find(&items).Error; err != nil {
			return err
		}
		if len(items) > size {
			items = items[:size]
			page.HasNext = true
			page.Next = Cursor(items[size-1].Position)
		}
		page.Items = make([]string, 0, len(items))
		for _, item := range items {
			page.Items = append(page.Items, item.URI)
		}
		return nil
	})
	return &page, err
}
