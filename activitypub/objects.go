package activitypub

import (
	"net/http"

	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/internal/snowflake"
	"github.com/davecheney/fedi/internal/to"
	"github.com/davecheney/fedi/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ObjectShow serves a stored object, /o/{id}.
func ObjectShow(env *Env, w http.ResponseWriter, r *http.Request) error {
	uri, err := env.objectParam(r)
	if err != nil {
		return err
	}
	return env.show(w, r, uri)
}

// ActivityShow serves a stored activity, /s/{id}.
func ActivityShow(env *Env, w http.ResponseWriter, r *http.Request) error {
	uri, err := env.activityParam(r)
	if err != nil {
		return err
	}
	return env.show(w, r, uri)
}

// objectParam returns the identifier of the object named by the id route
// parameter.
func (e *Env) objectParam(r *http.Request) (string, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return "", httpx.Error(http.StatusBadRequest, err)
	}
	return e.scheme.ObjectID(id), nil
}

func (e *Env) activityParam(r *http.Request) (string, error) {
	id, err := snowflake.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return "", httpx.Error(http.StatusBadRequest, err)
	}
	return e.scheme.ActivityID(id), nil
}

func (e *Env) show(w http.ResponseWriter, r *http.Request, uri string) error {
	doc, err := models.NewObjects(e.db.WithContext(r.Context())).Get(uri)
	if err != nil {
		return StatusError(err)
	}
	if _, ok := doc["@context"]; !ok {
		doc["@context"] = ActivityStreams
	}
	return to.ActivityJSON(w, doc)
}
