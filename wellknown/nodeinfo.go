package wellknown

import (
	"errors"
	"net/http"

	"github.com/davecheney/fedi/activitypub"
	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/internal/to"
	"github.com/davecheney/fedi/models"
	"github.com/go-chi/chi/v5"
)

const (
	softwareName    = "fedi"
	softwareVersion = "0.0.0-devel"
	repository      = "https://github.com/davecheney/fedi"
)

func NodeInfoIndex(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	domain := env.Config().Domain
	w.Header().Set("cache-control", "max-age=259200, public")
	return to.JSON(w, map[string]any{
		"links": []any{
			map[string]any{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": "https://" + domain + "/nodeinfo/2.0",
			},
			map[string]any{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.1",
				"href": "https://" + domain + "/nodeinfo/2.1",
			},
		},
	})
}

func NodeInfoShow(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	software := map[string]any{
		"name":    softwareName,
		"version": softwareVersion,
	}
	version := chi.URLParam(r, "version")
	switch version {
	case "2.0":
		// https://github.com/jhass/nodeinfo/blob/main/schemas/2.0/schema.json
	case "2.1":
		software["repository"] = repository
	default:
		return httpx.Error(http.StatusNotFound, errors.New("unsupported version: "+version))
	}
	users, err := models.NewActors(env.DB().WithContext(r.Context())).CountLocal()
	if err != nil {
		return err
	}
	w.Header().Set("cache-control", "max-age=259200, public")
	return to.JSON(w, map[string]any{
		"version":   version,
		"software":  software,
		"protocols": []any{"activitypub"},
		"services": map[string]any{
			"inbound":  []any{},
			"outbound": []any{},
		},
		"usage": map[string]any{
			"users": map[string]any{
				"total": users,
			},
		},
		"openRegistrations": false,
		"metadata":          map[string]any{},
	})
}
