package activitypub

import (
	"errors"
	"net/http"

	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/internal/to"
	"github.com/davecheney/fedi/models"
)

// ActorShow serves the actor document.
func ActorShow(env *Env, w http.ResponseWriter, r *http.Request) error {
	actor, err := env.actorParam(r)
	if err != nil {
		return err
	}
	if !httpx.Accepts(r, env.cfg.MediaTypes...) {
		return httpx.Error(http.StatusNotAcceptable, errors.New("actor documents are only available as activity+json"))
	}
	doc, err := models.NewObjects(env.db.WithContext(r.Context())).Get(actor.URI)
	switch {
	case isNotFound(err):
		doc = actor.Document(env.scheme, env.cfg.ProxyURL)
	case err != nil:
		return err
	}
	return to.ActivityJSON(w, doc)
}
