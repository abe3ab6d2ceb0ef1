// Package media proxies and resizes remote actor media.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/fedi/activitypub"
	"github.com/davecheney/fedi/internal/httpx"
	"github.com/go-chi/chi/v5"
	"github.com/nfnt/resize"
)

// MaxIconSize bounds the size parameter of an icon request.
const MaxIconSize = 1024

// maxIconBytes bounds the size of a fetched icon.
const maxIconBytes = 8 << 20

type iconParams struct {
	Size uint `schema:"size"`
}

// Icons serves actor icons, fetched from their origin and optionally
// scaled to fit a square of the requested size.
type Icons struct {
	// Client fetches icons. A nil Client uses http.DefaultClient.
	Client *http.Client
}

// Show serves /media/icon/{actor}?size=N.
func (i *Icons) Show(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	actor, err := env.LocalActor(r.Context(), chi.URLParam(r, "actor"))
	if err != nil {
		return activitypub.StatusError(err)
	}
	if actor.Icon == "" {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("%s has no icon", actor.URI))
	}
	var params iconParams
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	if params.Size > MaxIconSize {
		return httpx.Error(http.StatusBadRequest, fmt.Errorf("size must be at most %d", MaxIconSize))
	}

	buf, err := i.fetch(r.Context(), actor.Icon)
	if err != nil {
		env.Log().Info("media", "actor", actor.URI, "icon", actor.Icon, "error", err)
		return httpx.Error(http.StatusBadGateway, err)
	}
	contentType := http.DetectContentType(buf)
	if params.Size == 0 {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "max-age=86400, public")
		_, err := w.Write(buf)
		return err
	}
	img, format, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return httpx.Error(http.StatusBadGateway, fmt.Errorf("decode %s: %w", contentType, err))
	}
	thumb := resize.Thumbnail(params.Size, params.Size, img, resize.Lanczos3)
	env.Log().Debug("media", "actor", actor.URI, "format", format, "bounds", img.Bounds(), "size", params.Size)

	var out bytes.Buffer
	if err := png.Encode(&out, thumb); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=86400, public")
	_, err = w.Write(out.Bytes())
	return err
}

func (i *Icons) fetch(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	err := requests.URL(url).
		Client(i.Client).
		CheckStatus(http.StatusOK).
		AddValidator(func(resp *http.Response) error {
			if resp.ContentLength > maxIconBytes {
				return errors.New("icon too large")
			}
			return nil
		}).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	return buf.Bytes(), err
}
