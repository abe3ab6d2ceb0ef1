package main

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/davecheney/fedi/activitypub"
	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/media"
	"github.com/davecheney/fedi/wellknown"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// newRouter returns the HTTP surface of svc.
func newRouter(svc *activitypub.Service, logger *slog.Logger, icons *media.Icons) *chi.Mux {
	envFn := func(r *http.Request) *activitypub.Env {
		return &activitypub.Env{
			Service: svc,
			Logger:  logger.With("request_id", middleware.GetReqID(r.Context())),
		}
	}
	routes := svc.Config().Routes()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get(routes.Actor, httpx.HandlerFunc(envFn, activitypub.ActorShow))
	r.Get(routes.Inbox, httpx.HandlerFunc(envFn, activitypub.InboxIndex))
	r.Post(routes.Inbox, httpx.HandlerFunc(envFn, activitypub.InboxCreate))
	r.Get(routes.Outbox, httpx.HandlerFunc(envFn, activitypub.OutboxIndex))
	r.Post(routes.Outbox, httpx.HandlerFunc(envFn, activitypub.OutboxCreate))
	r.Get(routes.Followers, httpx.HandlerFunc(envFn, activitypub.Followers))
	r.Get(routes.Following, httpx.HandlerFunc(envFn, activitypub.Following))
	r.Get(routes.Liked, httpx.HandlerFunc(envFn, activitypub.Liked))
	r.Get(routes.Object, httpx.HandlerFunc(envFn, activitypub.ObjectShow))
	r.Get(routes.Activity, httpx.HandlerFunc(envFn, activitypub.ActivityShow))
	r.Get(routes.ObjectLikes, httpx.HandlerFunc(envFn, activitypub.ObjectLikes))
	r.Get(routes.ObjectShares, httpx.HandlerFunc(envFn, activitypub.ObjectShares))
	r.Get(routes.ActivityLikes, httpx.HandlerFunc(envFn, activitypub.ActivityLikes))
	r.Get(routes.ActivityShares, httpx.HandlerFunc(envFn, activitypub.ActivityShares))
	r.Post("/proxy", httpx.HandlerFunc(envFn, activitypub.ProxyCreate))
	r.Get("/media/icon/{actor}", httpx.HandlerFunc(envFn, icons.Show))

	r.Route("/.well-known", func(r chi.Router) {
		r.Get("/webfinger", httpx.HandlerFunc(envFn, wellknown.WebfingerShow))
		r.Get("/host-meta", httpx.HandlerFunc(envFn, wellknown.HostMetaIndex))
		r.Get("/nodeinfo", httpx.HandlerFunc(envFn, wellknown.NodeInfoIndex))
	})
	r.Get("/nodeinfo/{version}", httpx.HandlerFunc(envFn, wellknown.NodeInfoShow))

	r.Get("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "User-agent: *\nDisallow: /\n")
	})
	return r
}
