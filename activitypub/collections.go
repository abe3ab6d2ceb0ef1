package activitypub

import (
	"fmt"
	"net/http"

	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/internal/to"
	"github.com/davecheney/fedi/models"
)

type collectionParams struct {
	Page   bool   `schema:"page"`
	Cursor string `schema:"cursor"`
}

// Followers serves the followers collection.
func Followers(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.serveCollection(w, r, models.Followers, nil)
}

// Following serves the following collection.
func Following(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.serveCollection(w, r, models.Following, nil)
}

// Liked serves the liked collection.
func Liked(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.serveCollection(w, r, models.Liked, nil)
}

// OutboxIndex serves the outbox. Pages embed the activities.
func OutboxIndex(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.serveCollection(w, r, models.Outbox, env.embed)
}

// InboxIndex serves the inbox to its owner. Pages embed the activities.
func InboxIndex(env *Env, w http.ResponseWriter, r *http.Request) error {
	actor, err := env.actorParam(r)
	if err != nil {
		return err
	}
	if _, err := env.authenticate(w, r, actor); err != nil {
		return err
	}
	return env.collection(w, r, actor.URI, env.scheme.Inbox(actor.URI), models.Inbox, env.embed)
}

func (e *Env) serveCollection(w http.ResponseWriter, r *http.Request, kind models.CollectionKind, embed func(r *http.Request, ids []string) ([]any, error)) error {
	actor, err := e.actorParam(r)
	if err != nil {
		return err
	}
	return e.collection(w, r, actor.URI, e.collectionID(actor, kind), kind, embed)
}

// ObjectLikes serves the likes of a local object, /o/{id}/likes.
func ObjectLikes(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.reactions(w, r, models.Likes, env.objectParam)
}

// ObjectShares serves the shares of a local object, /o/{id}/shares.
func ObjectShares(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.reactions(w, r, models.Shares, env.objectParam)
}

// ActivityLikes serves the likes of a local activity, /s/{id}/likes.
func ActivityLikes(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.reactions(w, r, models.Likes, env.activityParam)
}

// ActivityShares serves the shares of a local activity, /s/{id}/shares.
func ActivityShares(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.reactions(w, r, models.Shares, env.activityParam)
}

func (e *Env) reactions(w http.ResponseWriter, r *http.Request, kind models.CollectionKind, param func(*http.Request) (string, error)) error {
	uri, err := param(r)
	if err != nil {
		return err
	}
	ok, err := models.NewObjects(e.db.WithContext(r.Context())).Exists(uri)
	if err != nil {
		return err
	}
	if !ok {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("object %q: %w", uri, models.ErrNotFound))
	}
	id := e.scheme.Likes(uri)
	if kind == models.Shares {
		id = e.scheme.Shares(uri)
	}
	return e.collection(w, r, uri, id, kind, nil)
}

// collection writes the collection summary, or a page of it when the page
// or cursor parameters are present.
func (e *Env) collection(w http.ResponseWriter, r *http.Request, owner, id string, kind models.CollectionKind, embed func(r *http.Request, ids []string) ([]any, error)) error {
	var params collectionParams
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	if !params.Page && params.Cursor == "" {
		total, err := e.collections.Count(r.Context(), owner, kind)
		if err != nil {
			return err
		}
		return to.ActivityJSON(w, map[string]any{
			"@context":   ActivityStreams,
			"id":         id,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      id + "?page=true",
		})
	}

	cursor, err := models.ParseCursor(params.Cursor)
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	page, err := e.collections.Page(r.Context(), owner, kind, cursor, e.cfg.PageSize)
	if err != nil {
		return err
	}
	var items []any
	if embed != nil {
		if items, err = embed(r, page.Items); err != nil {
			return err
		}
	} else {
		items = toAny(page.Items)
	}
	pageID := id + "?page=true"
	if cursor != 0 {
		pageID += "&cursor=" + cursor.String()
	}
	doc := map[string]any{
		"@context":     ActivityStreams,
		"id":           pageID,
		"type":         "OrderedCollectionPage",
		"partOf":       id,
		"totalItems":   page.TotalItems,
		"orderedItems": items,
	}
	if page.HasNext {
		doc["next"] = id + "?page=true&cursor=" + page.Next.String()
	}
	return to.ActivityJSON(w, doc)
}

// embed replaces each id with its stored document. Ids with no stored
// document are left as is.
func (e *Env) embed(r *http.Request, ids []string) ([]any, error) {
	objects := models.NewObjects(e.db.WithContext(r.Context()))
	items := make([]any, 0, len(ids))
	for _, id := range ids {
		doc, err := objects.Get(id)
		switch {
		case isNotFound(err):
			items = append(items, id)
		case err != nil:
			return nil, err
		default:
			delete(doc, "@context")
			items = append(items, doc)
		}
	}
	return items, nil
}

func (e *Env) collectionID(actor *models.Actor, kind models.CollectionKind) string {
	switch kind {
	case models.Followers:
		return e.scheme.Followers(actor.URI)
	case models.Following:
		return e.scheme.Following(actor.URI)
	case models.Liked:
		return e.scheme.Liked(actor.URI)
	default:
		return e.scheme.Outbox(actor.URI)
	}
}
