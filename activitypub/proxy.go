package activitypub

import (
	"errors"
	"net/http"

	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/internal/to"
	"github.com/davecheney/fedi/models"
)

type proxyParams struct {
	ID string `schema:"id" json:"id"`
}

// ProxyCreate fetches a remote document on behalf of an authenticated
// local actor, signing the request as that actor.
func ProxyCreate(env *Env, w http.ResponseWriter, r *http.Request) error {
	account, err := env.authenticate(w, r, nil)
	if err != nil {
		return err
	}
	var params proxyParams
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	if !isAbsolute(params.ID) {
		return httpx.Error(http.StatusBadRequest, errors.New("id must be an absolute url"))
	}
	if env.scheme.IsLocal(params.ID) {
		doc, err := models.NewObjects(env.db.WithContext(r.Context())).Get(params.ID)
		if err != nil {
			return StatusError(err)
		}
		return to.ActivityJSON(w, doc)
	}
	doc, err := env.fetcher.Fetch(r.Context(), account, params.ID)
	if err != nil {
		return httpx.Error(http.StatusBadGateway, err)
	}
	return to.ActivityJSON(w, doc)
}
