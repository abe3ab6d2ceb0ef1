package models

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/davecheney/fedi/internal/crypto"
	"github.com/davecheney/fedi/internal/identity"
	"github.com/davecheney/fedi/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateUsername is returned when a local actor with the same
// username already exists.
var ErrDuplicateUsername = errors.New("username already taken")

// ActorType is the ActivityStreams type of an actor. Types outside the
// well known set are stored verbatim.
type ActorType string

const (
	Person       ActorType = "Person"
	Service      ActorType = "Service"
	Application  ActorType = "Application"
	Group        ActorType = "Group"
	Organization ActorType = "Organization"
)

// Actor is a local or remote ActivityPub actor.
type Actor struct {
	ID          snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	URI         string    `gorm:"size:255;not null;uniqueIndex"`
	Type        ActorType `gorm:"size:64;not null;default:'Person'"`
	Name        string    `gorm:"size:64;not null;index:idx_actor_name_domain"`
	Domain      string    `gorm:"size:255;not null;index:idx_actor_name_domain"`
	Local       bool      `gorm:"not null;default:false"`
	DisplayName string    `gorm:"size:255;not null;default:''"`
	Summary     string    `gorm:"type:text"`
	Icon        string    `gorm:"size:255;not null;default:''"`
	// InboxURL is only recorded for remote actors. Local inboxes are
	// derived from the URI.
	InboxURL  string `gorm:"size:255;not null;default:''"`
	PublicKey []byte `gorm:"not null"`
}

// Inbox returns the URL activities for this actor are delivered to.
func (a *Actor) Inbox() string {
	if a.InboxURL != "" {
		return a.InboxURL
	}
	return a.URI + "/inbox"
}

// Acct returns the user@domain form of the actor's address.
func (a *Actor) Acct() string {
	return fmt.Sprintf("%s@%s", a.Name, a.Domain)
}

// PublicKeyID returns the identifier of the actor's public key.
func (a *Actor) PublicKeyID() string {
	return a.URI + "#main-key"
}

// Document renders the ActivityStreams representation of a local actor.
func (a *Actor) Document(s *identity.Scheme, proxyURL string) map[string]any {
	doc := map[string]any{
		"@context": []any{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                a.URI,
		"type":              string(a.Type),
		"preferredUsername": a.Name,
		"name":              a.DisplayName,
		"summary":           a.Summary,
		"published":         a.ID.ToTime().Format(time.RFC3339),
		"inbox":             s.Inbox(a.URI),
		"outbox":            s.Outbox(a.URI),
		"followers":         s.Followers(a.URI),
		"following":         s.Following(a.URI),
		"liked":             s.Liked(a.URI),
		"endpoints": map[string]any{
			"id":       s.Endpoints(a.URI),
			"proxyUrl": proxyURL,
		},
		"publicKey": map[string]any{
			"id":           s.KeyID(a.URI),
			"owner":        a.URI,
			"publicKeyPem": string(a.PublicKey),
		},
	}
	if a.Icon != "" {
		doc["icon"] = a.Icon
	}
	return doc
}

type Actors struct {
	db *gorm.DB
}

func NewActors(db *gorm.DB) *Actors {
	return &Actors{db: db}
}

// Find returns the actor with the given name and domain.
func (a *Actors) Find(name, domain string) (*Actor, error) {
	var actor Actor
	return &actor, notFound(a.db.Where("name = ? AND domain = ?", name, domain).Take(&actor).Error)
}

// FindLocal returns the local actor with the given username.
func (a *Actors) FindLocal(name string) (*Actor, error) {
	var actor Actor
	return &actor, notFound(a.db.Where("name = ? AND local = ?", name, true).Take(&actor).Error)
}

// FindByURI returns the actor with the given identifier, if known.
func (a *Actors) FindByURI(uri string) (*Actor, error) {
	var actor Actor
	return &actor, notFound(a.db.Where("uri = ?", uri).Take(&actor).Error)
}

// CountLocal returns the number of local actors.
func (a *Actors) CountLocal() (int64, error) {
	var n int64
	return n, a.db.Model(&Actor{}).Where("local = ?", true).Count(&n).Error
}

// SaveRemote records the remote actor described by doc under uri, and
// stores doc in the object store. Later saves replace earlier ones.
func (a *Actors) SaveRemote(uri string, doc map[string]any) (*Actor, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid actor uri %q: %w", uri, err)
	}
	name := stringFromAny(doc["preferredUsername"])
	if name == "" {
		name = path.Base(u.Path)
	}
	typ := ActorType(stringFromAny(doc["type"]))
	if typ == "" {
		typ = Person
	}
	actor := &Actor{
		ID:          snowflake.Now(),
		URI:         uri,
		Type:        typ,
		Name:        name,
		Domain:      u.Host,
		DisplayName: stringFromAny(doc["name"]),
		Summary:     stringFromAny(doc["summary"]),
		Icon:        iconURL(doc["icon"]),
		InboxURL:    stringFromAny(doc["inbox"]),
		PublicKey:   []byte(publicKeyPem(doc["publicKey"])),
	}
	err = a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "uri"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"type", "name", "domain", "display_name", "summary", "icon", "inbox_url", "public_key", "updated_at",
			}),
		}).Create(actor).Error; err != nil {
			return err
		}
		return NewObjects(tx).Put(uri, doc)
	})
	if err != nil {
		return nil, err
	}
	return a.FindByURI(uri)
}

// Registry creates local actors.
type Registry struct {
	db          *gorm.DB
	scheme      *identity.Scheme
	collections *Collections
	proxyURL    string
}

func NewRegistry(db *gorm.DB, scheme *identity.Scheme, collections *Collections, proxyURL string) *Registry {
	return &Registry{
		db:          db,
		scheme:      scheme,
		collections: collections,
		proxyURL:    proxyURL,
	}
}

// CreateActor creates a local actor with a fresh keypair, its empty
// followers, following, and liked collections, and its document.
func (r *Registry) CreateActor(ctx context.Context, username, displayName, summary, icon string, typ ActorType) (*Actor, error) {
	name, err := r.scheme.Parse(username)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		typ = Person
	}
	uri := r.scheme.ActorID(name)
	keypair, err := crypto.GenerateRSAKeypair()
	if err != nil {
		return nil, err
	}
	actor := &Actor{
		ID:          snowflake.Now(),
		URI:         uri,
		Type:        typ,
		Name:        name,
		Domain:      r.scheme.Domain(),
		Local:       true,
		DisplayName: displayName,
		Summary:     summary,
		Icon:        icon,
		PublicKey:   keypair.PublicKey,
	}
	err = r.collections.Mutate(ctx, uri, func(m *Mutation) error {
		tx := m.Tx()
		exists, err := NewObjects(tx).Exists(uri)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%q: %w", name, ErrDuplicateUsername)
		}
		if err := tx.Create(actor).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%q: %w", name, ErrDuplicateUsername)
			}
			return err
		}
		if err := tx.Create(&Account{
			ID:         snowflake.Now(),
			ActorID:    actor.ID,
			PrivateKey: keypair.PrivateKey,
		}).Error; err != nil {
			return err
		}
		if err := m.Create(Followers, Following, Liked, Outbox, Inbox); err != nil {
			return err
		}
		return NewObjects(tx).Put(uri, actor.Document(r.scheme, r.proxyURL))
	})
	if err != nil {
		return nil, err
	}
	return actor, nil
}

// notFound maps gorm's missing record error to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// iconURL accepts either a bare URL or an Image object.
func iconURL(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case map[string]any:
		return stringFromAny(v["url"])
	case []any:
		if len(v) > 0 {
			return iconURL(v[0])
		}
	}
	return ""
}

func publicKeyPem(v any) string {
	if m, ok := v.(map[string]any); ok {
		return stringFromAny(m["publicKeyPem"])
	}
	return ""
}
