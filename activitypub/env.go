package activitypub

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/internal/identity"
	"github.com/davecheney/fedi/models"
	"github.com/go-chi/chi/v5"
)

// Env is the per request environment of the ActivityPub handlers.
type Env struct {
	*Service
	Logger *slog.Logger
}

func (e *Env) Log() *slog.Logger {
	return e.Logger
}

// actorParam returns the local actor named by the {actor} route parameter.
func (e *Env) actorParam(r *http.Request) (*models.Actor, error) {
	actor, err := e.LocalActor(r.Context(), chi.URLParam(r, "actor"))
	if err != nil {
		return nil, StatusError(err)
	}
	return actor, nil
}

// authenticate checks the request's basic auth credentials and, when owner
// is not nil, that they belong to owner.
func (e *Env) authenticate(w http.ResponseWriter, r *http.Request, owner *models.Actor) (*models.Account, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+e.cfg.Domain+`"`)
		return nil, httpx.Error(http.StatusUnauthorized, errors.New("authentication required"))
	}
	account, err := models.NewAccounts(e.db.WithContext(r.Context())).Authenticate(username, password)
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", `Basic realm="`+e.cfg.Domain+`"`)
		return nil, httpx.Error(http.StatusUnauthorized, err)
	case err != nil:
		return nil, err
	}
	if owner != nil && account.ActorID != owner.ID {
		return nil, httpx.Error(http.StatusForbidden, errors.New("not the owner of this actor"))
	}
	return account, nil
}

// StatusError maps the errors of the pipelines to HTTP status codes.
func StatusError(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidIdentifier),
		errors.Is(err, ErrInvalidActivity),
		errors.Is(err, ErrUnknownActor),
		errors.Is(err, ErrUnresolvableActor):
		return httpx.Error(http.StatusBadRequest, err)
	case errors.Is(err, models.ErrNotFound):
		return httpx.Error(http.StatusNotFound, err)
	case errors.Is(err, models.ErrDuplicateUsername):
		return httpx.Error(http.StatusConflict, err)
	default:
		return err
	}
}
