package activitypub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/davecheney/fedi/activitypub/activities"
	"github.com/davecheney/fedi/models"
	"github.com/stretchr/testify/require"
)

func follow(id, actor, object string) map[string]any {
	return map[string]any{
		"id":     id,
		"type":   "Follow",
		"actor":  actor,
		"object": object,
	}
}

func TestReceiveFollow(t *testing.T) {
	ctx := context.Background()

	t.Run("a follow adds a follower and is accepted", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		receipt, err := svc.Receive(ctx, alice, follow("https://remote.example/follows/1", bob.URI, alice.URI))
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)
		require.False(receipt.Duplicate)
		require.Len(receipt.Replies, 1)

		contains, err := svc.Collections().Contains(ctx, alice.URI, models.Followers, bob.URI)
		require.NoError(err)
		require.True(contains)

		sent := net.sent(bob.Inbox())
		require.Len(sent, 1)
		require.Equal("Accept", sent[0]["type"])
		require.Equal(alice.URI, sent[0]["actor"])
		require.Equal("https://remote.example/follows/1", sent[0]["object"])
	})
	t.Run("accepts to slow followers are queued", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		svc.Config().Delivery.ReplyTimeout.Duration = 500 * time.Millisecond
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")
		net.stalled[bob.Inbox()] = true

		start := time.Now()
		receipt, err := svc.Receive(ctx, alice, follow("https://remote.example/follows/1", bob.URI, alice.URI))
		require.NoError(err)
		require.Less(time.Since(start), 5*time.Second)
		require.Equal(models.Handled, receipt.State)
		require.Len(receipt.Replies, 1)
		require.ErrorIs(receipt.Replies[0].Err(), context.DeadlineExceeded)
		require.Equal(1, count(t, svc, alice.URI, models.Followers))

		var queued []models.DeliveryRequest
		require.NoError(svc.DB().Find(&queued).Error)
		require.Len(queued, 1)
		require.Equal(bob.Inbox(), queued[0].Inbox)
		require.Equal(receipt.Replies[0].ID(), queued[0].ActivityURI)
	})
	t.Run("redelivery is idempotent", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")
		activity := follow("https://remote.example/follows/1", bob.URI, alice.URI)

		_, err := svc.Receive(ctx, alice, activity)
		require.NoError(err)
		receipt, err := svc.Receive(ctx, alice, activity)
		require.NoError(err)
		require.True(receipt.Duplicate)
		require.Empty(receipt.Replies)

		require.Equal(1, count(t, svc, alice.URI, models.Followers))
		require.Equal(1, count(t, svc, alice.URI, models.Inbox))
		require.Len(net.sent(bob.Inbox()), 1)
	})
	t.Run("a follow of someone else is ignored", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		receipt, err := svc.Receive(ctx, alice, follow("https://remote.example/follows/1", bob.URI, "https://remote.example/users/carol"))
		require.NoError(err)
		require.Equal(models.Ignored, receipt.State)
		require.Equal(0, count(t, svc, alice.URI, models.Followers))
	})
	t.Run("concurrent follows are all recorded", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		const n = 10
		followers := make([]*remoteActor, n)
		for i := range followers {
			followers[i] = net.addActor(t, fmt.Sprintf("https://remote%d.example/users/bob", i))
		}

		var wg sync.WaitGroup
		errs := make([]error, n)
		for i, f := range followers {
			wg.Add(1)
			go func(i int, f *remoteActor) {
				defer wg.Done()
				_, errs[i] = svc.Receive(ctx, alice, follow(f.URI+"/follows/1", f.URI, alice.URI))
			}(i, f)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(err)
		}
		require.Equal(n, count(t, svc, alice.URI, models.Followers))
		require.Equal(n, count(t, svc, alice.URI, models.Outbox))
		for _, f := range followers {
			require.Len(net.sent(f.Inbox()), 1)
		}
	})
}

func TestReceiveUndo(t *testing.T) {
	ctx := context.Background()

	t.Run("undo of a follow removes the follower", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")
		f := follow("https://remote.example/follows/1", bob.URI, alice.URI)
		_, err := svc.Receive(ctx, alice, f)
		require.NoError(err)

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":     "https://remote.example/undos/1",
			"type":   "Undo",
			"actor":  bob.URI,
			"object": f,
		})
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)
		require.Equal(0, count(t, svc, alice.URI, models.Followers))
	})
	t.Run("undo by reference uses the stored follow", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")
		_, err := svc.Receive(ctx, alice, follow("https://remote.example/follows/1", bob.URI, alice.URI))
		require.NoError(err)

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":     "https://remote.example/undos/1",
			"type":   "Undo",
			"actor":  bob.URI,
			"object": "https://remote.example/follows/1",
		})
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)
		require.Equal(0, count(t, svc, alice.URI, models.Followers))
	})
	t.Run("undo of another actor's follow is ignored", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")
		mallory := net.addActor(t, "https://remote.example/users/mallory")
		f := follow("https://remote.example/follows/1", bob.URI, alice.URI)
		_, err := svc.Receive(ctx, alice, f)
		require.NoError(err)

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":     "https://remote.example/undos/1",
			"type":   "Undo",
			"actor":  mallory.URI,
			"object": f,
		})
		require.NoError(err)
		require.Equal(models.Ignored, receipt.State)
		require.Equal(1, count(t, svc, alice.URI, models.Followers))
	})
}

func TestReceiveRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown types are ignored but recorded", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":     "https://remote.example/dances/1",
			"type":   "Dance",
			"actor":  bob.URI,
			"object": alice.URI,
		})
		require.NoError(err)
		require.Equal(models.Ignored, receipt.State)

		rec, err := models.NewInboxRecords(svc.DB()).Find(alice.URI, "https://remote.example/dances/1")
		require.NoError(err)
		require.Equal(models.Ignored, rec.State)
		require.Equal("Dance", rec.Type)
		require.Equal(1, count(t, svc, alice.URI, models.Inbox))
	})
	t.Run("unresolvable actors are rejected and nothing is stored", func(t *testing.T) {
		require := require.New(t)
		svc, _ := newTestService(t)
		alice := createActor(t, svc, "alice")

		_, err := svc.Receive(ctx, alice, follow("https://gone.example/follows/1", "https://gone.example/users/ghost", alice.URI))
		require.ErrorIs(err, ErrUnresolvableActor)

		require.Equal(0, count(t, svc, alice.URI, models.Inbox))
		require.Equal(0, count(t, svc, alice.URI, models.Followers))
		exists, err := models.NewObjects(svc.DB()).Exists("https://gone.example/follows/1")
		require.NoError(err)
		require.False(exists)
	})
	t.Run("activities missing fields are invalid", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		_, err := svc.Receive(ctx, alice, map[string]any{
			"id":    "https://remote.example/follows/1",
			"type":  "Follow",
			"actor": bob.URI,
		})
		require.ErrorIs(err, ErrInvalidActivity)
	})
	t.Run("activities hosted elsewhere than their actor are invalid", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		_, err := svc.Receive(ctx, alice, follow("https://other.example/follows/1", bob.URI, alice.URI))
		require.ErrorIs(err, ErrInvalidActivity)
	})
	t.Run("remote actors cannot claim local ids", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		net.addActor(t, "https://remote.example/users/bob")

		_, err := svc.Receive(ctx, alice, follow(svc.Scheme().NewActivityID(), "https://remote.example/users/bob", alice.URI))
		require.ErrorIs(err, ErrInvalidActivity)
	})
	t.Run("local actors cannot deliver unpublished activities", func(t *testing.T) {
		require := require.New(t)
		svc, _ := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := createActor(t, svc, "bob")

		_, err := svc.Receive(ctx, bob, map[string]any{
			"id":     alice.URI,
			"type":   "Person",
			"actor":  alice.URI,
			"object": "x",
			"name":   "Mallory",
			"inbox":  "https://evil.example/inbox",
		})
		require.ErrorIs(err, ErrInvalidActivity)

		_, err = svc.Receive(ctx, bob, follow(svc.Scheme().NewActivityID(), alice.URI, bob.URI))
		require.ErrorIs(err, ErrInvalidActivity)

		doc, err := models.NewObjects(svc.DB()).Get(alice.URI)
		require.NoError(err)
		require.Equal("alice", doc["name"])
		require.Equal(alice.URI+"/inbox", doc["inbox"])
		require.Equal(0, count(t, svc, bob.URI, models.Inbox))
		require.Equal(0, count(t, svc, bob.URI, models.Followers))
	})
}

func TestReceiveCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("embedded objects by the actor are stored", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":    "https://remote.example/creates/1",
			"type":  "Create",
			"actor": bob.URI,
			"object": map[string]any{
				"id":           "https://remote.example/notes/1",
				"type":         "Note",
				"attributedTo": bob.URI,
				"content":      "hello",
			},
		})
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)
		note, err := models.NewObjects(svc.DB()).Get("https://remote.example/notes/1")
		require.NoError(err)
		require.Equal("hello", note["content"])
	})
	t.Run("objects attributed to someone else are not stored", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":    "https://remote.example/creates/1",
			"type":  "Create",
			"actor": bob.URI,
			"object": map[string]any{
				"id":           "https://remote.example/notes/1",
				"type":         "Note",
				"attributedTo": "https://remote.example/users/carol",
			},
		})
		require.NoError(err)
		require.Equal(models.Ignored, receipt.State)
		exists, err := models.NewObjects(svc.DB()).Exists("https://remote.example/notes/1")
		require.NoError(err)
		require.False(exists)
	})
	t.Run("stored objects are not replaced", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		create := func(id, content string) map[string]any {
			return map[string]any{
				"id":    id,
				"type":  "Create",
				"actor": bob.URI,
				"object": map[string]any{
					"id":           "https://remote.example/notes/1",
					"type":         "Note",
					"attributedTo": bob.URI,
					"content":      content,
				},
			}
		}
		_, err := svc.Receive(ctx, alice, create("https://remote.example/creates/1", "hello"))
		require.NoError(err)
		receipt, err := svc.Receive(ctx, alice, create("https://remote.example/creates/2", "rewritten"))
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)

		note, err := models.NewObjects(svc.DB()).Get("https://remote.example/notes/1")
		require.NoError(err)
		require.Equal("hello", note["content"])
	})
}

func TestReceiveReactions(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *models.Actor, *remoteActor, *Publication) {
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")
		pub, err := svc.Publish(ctx, alice.URI, activities.Note("hello"))
		require.NoError(t, err)
		return svc, alice, bob, pub
	}
	like := func(id, actor, object string) map[string]any {
		return map[string]any{"id": id, "type": "Like", "actor": actor, "object": object}
	}

	t.Run("likes of the recipient's objects are collected", func(t *testing.T) {
		require := require.New(t)
		svc, alice, bob, pub := setup(t)
		note := idOf(pub.Activity["object"])

		receipt, err := svc.Receive(ctx, alice, like("https://remote.example/likes/1", bob.URI, note))
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)
		items, err := svc.Collections().Items(ctx, note, models.Likes)
		require.NoError(err)
		require.Equal([]string{"https://remote.example/likes/1"}, items)

		receipt, err = svc.Receive(ctx, alice, like("https://remote.example/likes/1", bob.URI, note))
		require.NoError(err)
		require.True(receipt.Duplicate)
		require.Equal(1, count(t, svc, note, models.Likes))
	})
	t.Run("announces are collected as shares", func(t *testing.T) {
		require := require.New(t)
		svc, alice, bob, pub := setup(t)

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":     "https://remote.example/announces/1",
			"type":   "Announce",
			"actor":  bob.URI,
			"object": pub.ID(),
		})
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)
		require.Equal(1, count(t, svc, pub.ID(), models.Shares))
		require.Equal(0, count(t, svc, pub.ID(), models.Likes))
	})
	t.Run("undo removes the like", func(t *testing.T) {
		require := require.New(t)
		svc, alice, bob, pub := setup(t)
		note := idOf(pub.Activity["object"])
		l := like("https://remote.example/likes/1", bob.URI, note)
		_, err := svc.Receive(ctx, alice, l)
		require.NoError(err)

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":     "https://remote.example/undos/1",
			"type":   "Undo",
			"actor":  bob.URI,
			"object": l,
		})
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)
		require.Equal(0, count(t, svc, note, models.Likes))
	})
	t.Run("likes of objects owned by someone else are ignored", func(t *testing.T) {
		require := require.New(t)
		svc, _, bob, pub := setup(t)
		carol := createActor(t, svc, "carol")
		note := idOf(pub.Activity["object"])

		receipt, err := svc.Receive(ctx, carol, like("https://remote.example/likes/1", bob.URI, note))
		require.NoError(err)
		require.Equal(models.Ignored, receipt.State)
		require.Equal(0, count(t, svc, note, models.Likes))

		receipt, err = svc.Receive(ctx, carol, like("https://remote.example/likes/2", bob.URI, "https://remote.example/notes/1"))
		require.NoError(err)
		require.Equal(models.Ignored, receipt.State)
	})
}

func TestFollowRoundTrip(t *testing.T) {
	ctx := context.Background()

	t.Run("remote accept completes a follow", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		pub, err := svc.Publish(ctx, alice.URI, activities.Follow(alice.URI, bob.URI))
		require.NoError(err)
		require.NoError(pub.Err())
		require.Equal([]string{bob.Inbox()}, pub.Delivered)
		require.Equal(0, count(t, svc, alice.URI, models.Following))

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":     "https://remote.example/accepts/1",
			"type":   "Accept",
			"actor":  bob.URI,
			"object": pub.ID(),
		})
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)
		require.Equal(1, count(t, svc, alice.URI, models.Following))

		receipt, err = svc.Receive(ctx, alice, map[string]any{
			"id":     "https://remote.example/rejects/1",
			"type":   "Reject",
			"actor":  bob.URI,
			"object": pub.ID(),
		})
		require.NoError(err)
		require.Equal(models.Handled, receipt.State)
		require.Equal(0, count(t, svc, alice.URI, models.Following))
	})
	t.Run("accepts of unknown follows are ignored", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		bob := net.addActor(t, "https://remote.example/users/bob")

		receipt, err := svc.Receive(ctx, alice, map[string]any{
			"id":     "https://remote.example/accepts/1",
			"type":   "Accept",
			"actor":  bob.URI,
			"object": svc.Scheme().NewActivityID(),
		})
		require.NoError(err)
		require.Equal(models.Ignored, receipt.State)
		require.Equal(0, count(t, svc, alice.URI, models.Following))
	})
	t.Run("local actors follow each other in process", func(t *testing.T) {
		require := require.New(t)
		svc, net := newTestService(t)
		alice := createActor(t, svc, "alice")
		carol := createActor(t, svc, "carol")

		pub, err := svc.Publish(ctx, carol.URI, activities.Follow(carol.URI, alice.URI))
		require.NoError(err)
		require.NoError(pub.Err())
		require.Equal([]string{alice.Inbox()}, pub.Delivered)

		require.Equal(1, count(t, svc, alice.URI, models.Followers))
		require.Equal(1, count(t, svc, carol.URI, models.Following))
		require.Equal(1, count(t, svc, carol.URI, models.Inbox))
		require.Empty(net.deliveries)

		pub, err = svc.Publish(ctx, carol.URI, activities.Unfollow(carol.URI, alice.URI))
		require.NoError(err)
		require.NoError(pub.Err())
		require.Equal(0, count(t, svc, alice.URI, models.Followers))
		require.Equal(0, count(t, svc, carol.URI, models.Following))
	})
}
