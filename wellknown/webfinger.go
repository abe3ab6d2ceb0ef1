// Package wellknown serves the discovery documents under /.well-known.
package wellknown

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/davecheney/fedi/activitypub"
	"github.com/davecheney/fedi/internal/config"
	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/internal/identity"
	"github.com/davecheney/fedi/internal/to"
	"github.com/davecheney/fedi/internal/webfinger"
	"github.com/davecheney/fedi/models"
	"gorm.io/gorm"
)

// Resolver maps account handles on the local domain to actors.
type Resolver struct {
	scheme *identity.Scheme
	db     *gorm.DB
}

func NewResolver(scheme *identity.Scheme, db *gorm.DB) *Resolver {
	return &Resolver{
		scheme: scheme,
		db:     db,
	}
}

// Resolve returns the WebFinger document of the local actor named by
// resource, acct:user@domain or user@domain. Handles on other domains and
// unknown users are not found.
func (r *Resolver) Resolve(ctx context.Context, resource string) (*webfinger.Webfinger, error) {
	acct, err := webfinger.Parse(resource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrInvalidIdentifier, err)
	}
	domain, err := config.NormaliseDomain(acct.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrInvalidIdentifier, err)
	}
	if domain != r.scheme.Domain() {
		return nil, fmt.Errorf("%s: %w", acct, models.ErrNotFound)
	}
	if !identity.ValidUsername(acct.User) {
		return nil, fmt.Errorf("%s: %w", acct, models.ErrNotFound)
	}
	actor, err := models.NewActors(r.db.WithContext(ctx)).FindLocal(acct.User)
	if err != nil {
		return nil, err
	}
	acct.Host = domain
	return &webfinger.Webfinger{
		Subject: acct.String(),
		Aliases: []string{actor.URI},
		Links: []webfinger.Link{{
			Rel:  "self",
			Type: webfinger.ActivityMediaType,
			Href: actor.URI,
		}},
	}, nil
}

// WebfingerShow serves /.well-known/webfinger?resource=acct:user@domain.
func WebfingerShow(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		return httpx.Error(http.StatusBadRequest, errors.New("missing resource parameter"))
	}
	wf, err := NewResolver(env.Scheme(), env.DB()).Resolve(r.Context(), resource)
	if err != nil {
		return activitypub.StatusError(err)
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	return to.JRD(w, wf)
}
