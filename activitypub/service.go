package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/davecheney/fedi/internal/config"
	"github.com/davecheney/fedi/internal/identity"
	"github.com/davecheney/fedi/models"
	"gorm.io/gorm"
)

// Service wires the object store, actor registry, and collection manager
// to the inbox and outbox pipelines.
type Service struct {
	cfg         *config.Config
	scheme      *identity.Scheme
	db          *gorm.DB
	collections *models.Collections
	registry    *models.Registry
	fetcher     Fetcher
	deliverer   Deliverer
	logger      *slog.Logger

	inbox map[string]inboxHandler
}

// NewService returns a Service storing state in db. Remote documents are
// fetched with fetcher and activities are delivered with deliverer.
func NewService(cfg *config.Config, db *gorm.DB, fetcher Fetcher, deliverer Deliverer, logger *slog.Logger) *Service {
	scheme := identity.New(cfg.Domain, cfg.ActorPrefix)
	collections := models.NewCollections(db)
	s := &Service{
		cfg:         cfg,
		scheme:      scheme,
		db:          db,
		collections: collections,
		registry:    models.NewRegistry(db, scheme, collections, cfg.ProxyURL),
		fetcher:     fetcher,
		deliverer:   deliverer,
		logger:      logger,
	}
	s.inbox = map[string]inboxHandler{
		"Follow":   (*Service).inboxFollow,
		"Undo":     (*Service).inboxUndo,
		"Accept":   (*Service).inboxAccept,
		"Reject":   (*Service).inboxReject,
		"Create":   (*Service).inboxCreate,
		"Like":     (*Service).inboxReaction,
		"Announce": (*Service).inboxReaction,
	}
	return s
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Scheme returns the identity scheme of the local domain.
func (s *Service) Scheme() *identity.Scheme { return s.scheme }

// DB returns the service's database handle.
func (s *Service) DB() *gorm.DB { return s.db }

// Collections returns the collection manager.
func (s *Service) Collections() *models.Collections { return s.collections }

// CreateActor creates a local actor.
func (s *Service) CreateActor(ctx context.Context, username, displayName, summary, icon string, typ models.ActorType) (*models.Actor, error) {
	actor, err := s.registry.CreateActor(ctx, username, displayName, summary, icon, typ)
	if err != nil {
		return nil, err
	}
	s.logger.Info("actor created", "actor", actor.URI, "type", actor.Type)
	return actor, nil
}

// LocalActor returns the local actor for the route parameter name.
func (s *Service) LocalActor(ctx context.Context, name string) (*models.Actor, error) {
	name, err := s.scheme.Parse(name)
	if err != nil {
		return nil, err
	}
	return models.NewActors(s.db.WithContext(ctx)).FindLocal(name)
}

// ResolveActor returns the actor identified by uri, fetching and caching
// its document, signed as signAs, when it is not already known.
func (s *Service) ResolveActor(ctx context.Context, signAs Signer, uri string) (*models.Actor, error) {
	actors := models.NewActors(s.db.WithContext(ctx))
	actor, err := actors.FindByURI(uri)
	if err == nil {
		return actor, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if s.scheme.IsLocal(uri) {
		return nil, fmt.Errorf("%s: %w", uri, models.ErrNotFound)
	}
	return s.FetchActor(ctx, signAs, uri)
}

// FetchActor fetches the remote actor's document and records it,
// replacing any cached copy.
func (s *Service) FetchActor(ctx context.Context, signAs Signer, uri string) (*models.Actor, error) {
	doc, err := s.fetcher.Fetch(ctx, signAs, uri)
	if err != nil {
		return nil, err
	}
	if stringFromAny(doc["inbox"]) == "" {
		return nil, fmt.Errorf("%s: document has no inbox", uri)
	}
	s.logger.Debug("actor fetched", "actor", uri, "type", doc["type"])
	return models.NewActors(s.db.WithContext(ctx)).SaveRemote(uri, doc)
}

// account returns the signing account of a local actor.
func (s *Service) account(ctx context.Context, actor *models.Actor) (*models.Account, error) {
	return models.NewAccounts(s.db.WithContext(ctx)).AccountForActor(actor)
}
