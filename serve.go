package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/davecheney/fedi/internal/group"
	"github.com/davecheney/fedi/media"
	"github.com/davecheney/fedi/workers"
	"github.com/go-chi/chi/v5"
)

type ServeCmd struct {
	Addr string `help:"Address to listen on. Overrides the configuration."`
}

func (s *ServeCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	svc, deliverer := ctx.service(db)
	handler := newRouter(svc, ctx.Logger, &media.Icons{})

	walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		ctx.Logger.Debug("route", "method", method, "route", strings.Replace(route, "/*/", "/", -1))
		return nil
	}
	if err := chi.Walk(handler, walkFunc); err != nil {
		ctx.Logger.Warn("walk routes", "error", err)
	}

	addr := ctx.Settings.Server.Addr
	if s.Addr != "" {
		addr = s.Addr
	}
	svr := &http.Server{
		Addr:         addr,
		Handler:      handler,
		WriteTimeout: ctx.Settings.Server.WriteTimeout.Duration,
		ReadTimeout:  ctx.Settings.Server.ReadTimeout.Duration,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := group.New(sigCtx, ctx.Logger)
	g.Add("http", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			svr.Shutdown(shutdownCtx)
		}()
		if err := svr.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Add("delivery", workers.NewDeliveryProcessor(db, deliverer, ctx.Settings.Delivery.MaxAttempts, 30*time.Second, ctx.Logger))
	g.Add("actor-refresh", workers.NewActorRefreshProcessor(svc, time.Minute, ctx.Logger))
	ctx.Logger.Info("serving", "addr", addr, "domain", ctx.Settings.Domain)
	return g.Wait()
}
