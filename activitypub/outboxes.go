package activitypub

import (
	"fmt"
	"net/http"

	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/internal/to"
	"github.com/go-json-experiment/json"
)

// OutboxCreate publishes an activity, or a bare object, posted by the
// owner of the outbox.
func OutboxCreate(env *Env, w http.ResponseWriter, r *http.Request) error {
	actor, err := env.actorParam(r)
	if err != nil {
		return err
	}
	if _, err := env.authenticate(w, r, actor); err != nil {
		return err
	}
	if !env.cfg.IsActivityMediaType(r.Header.Get("Content-Type")) {
		return httpx.Error(http.StatusUnsupportedMediaType, fmt.Errorf("unsupported media type: %q", r.Header.Get("Content-Type")))
	}
	var doc map[string]any
	if err := json.UnmarshalFull(http.MaxBytesReader(w, r.Body, maxActivitySize), &doc); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	pub, err := env.Publish(r.Context(), actor.URI, doc)
	if err != nil {
		return StatusError(err)
	}
	if err := pub.Err(); err != nil {
		env.Log().Warn("outbox", "actor", actor.URI, "activity", pub.ID(), "error", err)
	}
	return to.Created(w, pub.ID(), pub.Activity)
}
