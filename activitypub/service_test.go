package activitypub

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/davecheney/fedi/internal/config"
	"github.com/davecheney/fedi/internal/crypto"
	"github.com/davecheney/fedi/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// network is an in memory fediverse. It serves remote actor documents and
// records deliveries.
type network struct {
	mu         sync.Mutex
	docs       map[string]map[string]any
	deliveries []sent
	failing    map[string]error
	// stalled inboxes never answer; deliveries wait for the context.
	stalled map[string]bool
}

type sent struct {
	inbox    string
	activity map[string]any
}

func newNetwork() *network {
	return &network{
		docs:    make(map[string]map[string]any),
		failing: make(map[string]error),
		stalled: make(map[string]bool),
	}
}

func (n *network) Fetch(_ context.Context, _ Signer, uri string) (map[string]any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	doc, ok := n.docs[uri]
	if !ok {
		return nil, fmt.Errorf("GET %s: 404 Not Found", uri)
	}
	return clone(doc), nil
}

func (n *network) Deliver(ctx context.Context, _ Signer, inbox string, activity map[string]any) error {
	n.mu.Lock()
	stalled := n.stalled[inbox]
	n.mu.Unlock()
	if stalled {
		<-ctx.Done()
		return ctx.Err()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failing[inbox]; ok {
		return err
	}
	n.deliveries = append(n.deliveries, sent{inbox: inbox, activity: activity})
	return nil
}

// sent returns the deliveries made to inbox.
func (n *network) sent(inbox string) []map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	var activities []map[string]any
	for _, d := range n.deliveries {
		if d.inbox == inbox {
			activities = append(activities, d.activity)
		}
	}
	return activities
}

// remoteActor is an actor on another server.
type remoteActor struct {
	URI        string
	privateKey []byte
}

func (r *remoteActor) Inbox() string { return r.URI + "/inbox" }

func (r *remoteActor) PublicKeyID() string { return r.URI + "#main-key" }

func (r *remoteActor) PrivKey() (*rsa.PrivateKey, error) {
	_, priv, err := crypto.ParseRSAPrivateKey(r.privateKey)
	return priv, err
}

// addActor publishes the document of a remote actor on the network.
func (n *network) addActor(t *testing.T, uri string) *remoteActor {
	t.Helper()
	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(t, err)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.docs[uri] = map[string]any{
		"@context":          ActivityStreams,
		"id":                uri,
		"type":              "Person",
		"preferredUsername": uri[strings.LastIndex(uri, "/")+1:],
		"inbox":             uri + "/inbox",
		"publicKey": map[string]any{
			"id":           uri + "#main-key",
			"owner":        uri,
			"publicKeyPem": string(kp.PublicKey),
		},
	}
	return &remoteActor{URI: uri, privateKey: kp.PrivateKey}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)

	sqlDB, err := db.DB()
	require.NoError(err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(db.AutoMigrate(models.AllTables()...))
	require.NoError(db.Exec("PRAGMA foreign_keys = ON").Error)
	return db
}

func newTestService(t *testing.T) (*Service, *network) {
	t.Helper()
	cfg := config.Default("example.com")
	require.NoError(t, cfg.Finish())
	net := newNetwork()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(&cfg, setupTestDB(t), net, net, logger), net
}

func createActor(t *testing.T, svc *Service, name string) *models.Actor {
	t.Helper()
	actor, err := svc.CreateActor(context.Background(), name, name, "", "", models.Person)
	require.NoError(t, err)
	return actor
}

func count(t *testing.T, svc *Service, actor string, kind models.CollectionKind) int {
	t.Helper()
	n, err := svc.Collections().Count(context.Background(), actor, kind)
	require.NoError(t, err)
	return int(n)
}

func TestResolveActor(t *testing.T) {
	ctx := context.Background()

	t.Run("remote actors are fetched once", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		account, err := svc.account(ctx, alice)
		require.NoError(err)
		bob := net.addActor(t, "https://remote.example/users/bob")

		actor, err := svc.ResolveActor(ctx, account, bob.URI)
		require.NoError(err)
		require.Equal(bob.Inbox(), actor.Inbox())
		require.Equal("remote.example", actor.Domain)
		require.False(actor.Local)

		delete(net.docs, bob.URI)
		again, err := svc.ResolveActor(ctx, account, bob.URI)
		require.NoError(err)
		require.Equal(actor.ID, again.ID)
	})
	t.Run("unknown local actors are not found", func(t *testing.T) {
		require := require.New(t)
		svc, _ := newTestService(t)
		alice := createActor(t, svc, "alice")
		account, err := svc.account(ctx, alice)
		require.NoError(err)
		_, err = svc.ResolveActor(ctx, account, svc.Scheme().ActorID("nobody"))
		require.ErrorIs(err, models.ErrNotFound)
	})
	t.Run("documents without an inbox are rejected", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		account, err := svc.account(ctx, alice)
		require.NoError(err)
		net.docs["https://remote.example/users/nobox"] = map[string]any{"id": "https://remote.example/users/nobox", "type": "Person"}
		_, err = svc.ResolveActor(ctx, account, "https://remote.example/users/nobox")
		require.Error(err)
	})
}
