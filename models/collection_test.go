package models

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollections(t *testing.T) {
	ctx := context.Background()
	const alice = "https://example.com/u/alice"

	t.Run("followers are a set", func(t *testing.T) {
		require := require.New(t)
		colls := NewCollections(setupTestDB(t))

		added, err := colls.Append(ctx, alice, Followers, "https://remote.example/users/bob")
		require.NoError(err)
		require.True(added)
		added, err = colls.Append(ctx, alice, Followers, "https://remote.example/users/bob")
		require.NoError(err)
		require.False(added)

		n, err := colls.Count(ctx, alice, Followers)
		require.NoError(err)
		require.EqualValues(1, n)
	})
	t.Run("outbox appends duplicates", func(t *testing.T) {
		require := require.New(t)
		colls := NewCollections(setupTestDB(t))

		for i := 0; i < 2; i++ {
			added, err := colls.Append(ctx, alice, Outbox, "https://example.com/s/1")
			require.NoError(err)
			require.True(added)
		}
		n, err := colls.Count(ctx, alice, Outbox)
		require.NoError(err)
		require.EqualValues(2, n)
	})
	t.Run("remove", func(t *testing.T) {
		require := require.New(t)
		colls := NewCollections(setupTestDB(t))

		_, err := colls.Append(ctx, alice, Following, "https://remote.example/users/bob")
		require.NoError(err)

		removed, err := colls.Remove(ctx, alice, Following, "https://remote.example/users/bob")
		require.NoError(err)
		require.True(removed)
		removed, err = colls.Remove(ctx, alice, Following, "https://remote.example/users/bob")
		require.NoError(err)
		require.False(removed)

		ok, err := colls.Contains(ctx, alice, Following, "https://remote.example/users/bob")
		require.NoError(err)
		require.False(ok)
		n, err := colls.Count(ctx, alice, Following)
		require.NoError(err)
		require.EqualValues(0, n)
	})
	t.Run("missing collections are empty", func(t *testing.T) {
		require := require.New(t)
		colls := NewCollections(setupTestDB(t))

		page, err := colls.Page(ctx, alice, Liked, 0, 10)
		require.NoError(err)
		require.EqualValues(0, page.TotalItems)
		require.Empty(page.Items)
		require.False(page.HasNext)
	})
	t.Run("a failed mutation leaves the collection untouched", func(t *testing.T) {
		require := require.New(t)
		colls := NewCollections(setupTestDB(t))

		err := colls.Mutate(ctx, alice, func(m *Mutation) error {
			if _, err := m.Append(Outbox, "https://example.com/s/1"); err != nil {
				return err
			}
			return fmt.Errorf("boom")
		})
		require.Error(err)
		n, err := colls.Count(ctx, alice, Outbox)
		require.NoError(err)
		require.EqualValues(0, n)
	})
}

func TestCollectionsPage(t *testing.T) {
	ctx := context.Background()
	const alice = "https://example.com/u/alice"

	t.Run("pages walk every item exactly once", func(t *testing.T) {
		require := require.New(t)
		colls := NewCollections(setupTestDB(t))

		var want []string
		for i := 0; i < 7; i++ {
			item := fmt.Sprintf("https://example.com/s/%d", i)
			want = append(want, item)
			_, err := colls.Append(ctx, alice, Outbox, item)
			require.NoError(err)
		}

		var got []string
		var cursor Cursor
		for pages := 0; ; pages++ {
			require.Less(pages, 10, "pagination did not terminate")
			page, err := colls.Page(ctx, alice, Outbox, cursor, 3)
			require.NoError(err)
			require.EqualValues(7, page.TotalItems)
			got = append(got, page.Items...)
			if !page.HasNext {
				break
			}
			cursor = page.Next
		}
		require.Equal(want, got)
	})
	t.Run("cursors survive appends", func(t *testing.T) {
		require := require.New(t)
		colls := NewCollections(setupTestDB(t))

		for i := 0; i < 4; i++ {
			_, err := colls.Append(ctx, alice, Outbox, fmt.Sprintf("https://example.com/s/%d", i))
			require.NoError(err)
		}
		first, err := colls.Page(ctx, alice, Outbox, 0, 2)
		require.NoError(err)
		require.True(first.HasNext)

		_, err = colls.Append(ctx, alice, Outbox, "https://example.com/s/4")
		require.NoError(err)

		second, err := colls.Page(ctx, alice, Outbox, first.Next, 10)
		require.NoError(err)
		require.Equal([]string{
			"https://example.com/s/2",
			"https://example.com/s/3",
			"https://example.com/s/4",
		}, second.Items)
		require.False(second.HasNext)
	})
	t.Run("positions are not reused after a remove", func(t *testing.T) {
		require := require.New(t)
		colls := NewCollections(setupTestDB(t))

		_, err := colls.Append(ctx, alice, Liked, "https://remote.example/notes/1")
		require.NoError(err)
		_, err = colls.Append(ctx, alice, Liked, "https://remote.example/notes/2")
		require.NoError(err)
		page, err := colls.Page(ctx, alice, Liked, 0, 1)
		require.NoError(err)

		_, err = colls.Remove(ctx, alice, Liked, "https://remote.example/notes/2")
		require.NoError(err)
		_, err = colls.Append(ctx, alice, Liked, "https://remote.example/notes/3")
		require.NoError(err)

		next, err := colls.Page(ctx, alice, Liked, page.Next, 10)
		require.NoError(err)
		require.Equal([]string{"https://remote.example/notes/3"}, next.Items)
	})
}

func TestParseCursor(t *testing.T) {
	require := require.New(t)

	c, err := ParseCursor("")
	require.NoError(err)
	require.Equal(Cursor(0), c)

	c, err = ParseCursor(Cursor(42).String())
	require.NoError(err)
	require.Equal(Cursor(42), c)

	_, err = ParseCursor("not-a-cursor")
	require.Error(err)
}

func TestCollectionsConcurrentAppend(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	const alice = "https://example.com/u/alice"
	colls := NewCollections(setupTestDB(t))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			follower := fmt.Sprintf("https://remote.example/users/%d", i%5)
			if _, err := colls.Append(ctx, alice, Followers, follower); err != nil {
				errs <- err
			}
			if _, err := colls.Append(ctx, alice, Outbox, fmt.Sprintf("https://example.com/s/%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(err)
	}

	followers, err := colls.Items(ctx, alice, Followers)
	require.NoError(err)
	require.Len(followers, 5)
	count, err := colls.Count(ctx, alice, Followers)
	require.NoError(err)
	require.EqualValues(5, count)

	outbox, err := colls.Page(ctx, alice, Outbox, 0, 100)
	require.NoError(err)
	require.Len(outbox.Items, n)
	require.EqualValues(n, outbox.TotalItems)
}
