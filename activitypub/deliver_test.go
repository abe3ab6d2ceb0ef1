package activitypub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davecheney/fedi/internal/config"
	"github.com/davecheney/fedi/internal/httpsig"
	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/require"
)

func TestHTTPDeliverer(t *testing.T) {
	ctx := context.Background()
	bob := newNetwork().addActor(t, "https://remote.example/users/bob")

	var received map[string]any
	var signature, digest string
	var raw []byte
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			w.Header().Set("Content-Type", "application/activity+json")
			json.MarshalFull(w, map[string]any{"id": "https://remote.example/notes/1", "type": "Note"})
		case "POST":
			signature = r.Header.Get("Signature")
			digest = r.Header.Get("Digest")
			raw, _ = io.ReadAll(r.Body)
			json.Unmarshal(raw, &received)
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer srv.Close()

	cfg := config.Default("example.com").Delivery
	cfg.Timeout = config.Duration{Duration: 5 * time.Second}
	d := NewHTTPDeliverer(cfg, srv.Client().Transport)

	t.Run("deliveries are signed", func(t *testing.T) {
		require := require.New(t)
		err := d.Deliver(ctx, bob, srv.URL+"/inbox", map[string]any{"type": "Like", "object": "https://example.com/o/1"})
		require.NoError(err)
		require.Equal("Like", received["type"])
		require.Contains(signature, `keyId="https://remote.example/users/bob#main-key"`)
		require.NoError(httpsig.CheckDigest(digest, raw))
	})
	t.Run("fetches decode documents", func(t *testing.T) {
		require := require.New(t)
		doc, err := d.Fetch(ctx, bob, srv.URL+"/notes/1")
		require.NoError(err)
		require.Equal("Note", doc["type"])
	})
	t.Run("relative urls are refused", func(t *testing.T) {
		require := require.New(t)
		_, err := d.Fetch(ctx, bob, "/notes/1")
		require.Error(err)
	})
}
