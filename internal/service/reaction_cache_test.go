package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/content-fanout/internal/cache"
	"github.com/d60-Lab/content-fanout/internal/event"
	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/repository"
)

func newReactionCache(t *testing.T) (*ReactionCountCache, cache.Store, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	client, _ := newTestRedis(t)
	store := cache.NewRedisStore(client)
	return NewReactionCountCache(store, repository.NewReactionRepository(db)), store, db
}

func seedReaction(t *testing.T, db *gorm.DB, id, contentID, name string) {
	t.Helper()
	require.NoError(t, db.Create(&model.Reaction{
		ID:           id,
		TargetType:   model.ReactionTargetContent,
		TargetID:     contentID,
		ReactionName: name,
		CreatedBy:    "u",
	}).Error)
}

func reactionOn(contentID, name string) event.ReactionChange {
	return event.ReactionChange{ReactionID: "r", UserID: "u1", TargetType: "CONTENT", TargetID: contentID, ReactionName: name}
}

func cachedCounts(t *testing.T, store cache.Store, contentID string) map[string]int64 {
	t.Helper()
	var counts map[string]int64
	ok, err := store.GetJSON(context.Background(), ReactionCountKey(contentID), "", &counts)
	require.NoError(t, err)
	require.True(t, ok, "record must exist")
	return counts
}

func TestReactionCache_AbsentRecordIsRebuilt(t *testing.T) {
	ctx := context.Background()
	c, store, db := newReactionCache(t)
	seedReaction(t, db, "r1", "c1", "like")
	seedReaction(t, db, "r2", "c1", "like")
	seedReaction(t, db, "r3", "c1", "love")

	require.NoError(t, c.OnReactionCreated(ctx, reactionOn("c1", "love")))
	assert.Equal(t, map[string]int64{"like": 2, "love": 1}, cachedCounts(t, store, "c1"))
}

func TestReactionCache_IncrementalUpdates(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newReactionCache(t)
	require.NoError(t, store.SetJSON(ctx, ReactionCountKey("c1"), map[string]int64{"like": 3}))

	require.NoError(t, c.OnReactionCreated(ctx, reactionOn("c1", "like")))
	require.NoError(t, c.OnReactionCreated(ctx, reactionOn("c1", "wow")))
	require.NoError(t, c.OnReactionDeleted(ctx, reactionOn("c1", "like")))
	require.NoError(t, c.OnReactionDeleted(ctx, reactionOn("c1", "sad")))

	assert.Equal(t, map[string]int64{"like": 3, "wow": 1, "sad": 0}, cachedCounts(t, store, "c1"))
}

func TestReactionCache_NegativeCounterIsReconciled(t *testing.T) {
	ctx := context.Background()
	c, store, db := newReactionCache(t)
	seedReaction(t, db, "r1", "c1", "like")
	require.NoError(t, store.SetJSON(ctx, ReactionCountKey("c1"), map[string]int64{"like": 0}))

	require.NoError(t, c.OnReactionDeleted(ctx, reactionOn("c1", "like")))
	assert.Equal(t, map[string]int64{"like": 1}, cachedCounts(t, store, "c1"))
}

func TestReactionCache_CommentTargetsAreIgnored(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newReactionCache(t)
	r := reactionOn("c1", "like")
	r.TargetType = "COMMENT"

	require.NoError(t, c.OnReactionCreated(ctx, r))
	ok, err := store.GetJSON(ctx, ReactionCountKey("c1"), "", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReactionCache_ConcurrentCreatesConverge(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newReactionCache(t)
	require.NoError(t, store.SetJSON(ctx, ReactionCountKey("c1"), map[string]int64{}))

	const workers = 32
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- c.OnReactionCreated(ctx, reactionOn("c1", "like"))
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(workers), cachedCounts(t, store, "c1")["like"])
}

func TestReactionCache_GetAndGetMany(t *testing.T) {
	ctx := context.Background()
	c, store, db := newReactionCache(t)
	seedReaction(t, db, "r1", "c2", "like")
	require.NoError(t, store.SetJSON(ctx, ReactionCountKey("c1"), map[string]int64{"love": 4}))

	got, err := c.Get(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"like": 1}, got)

	many, err := c.GetMany(ctx, []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]int64{
		"c1": {"love": 4},
		"c2": {"like": 1},
		"c3": {},
	}, many)

	// c3 已重建为空记录
	assert.Empty(t, cachedCounts(t, store, "c3"))
}

func TestReactionCache_RedeliveryAfterSiblingFailureCountsOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	client, _ := newTestRedis(t)
	store := cache.NewRedisStore(client)
	c := NewReactionCountCache(store, repository.NewReactionRepository(db))

	seedReaction(t, db, "r1", "c1", "like")
	_, err := c.Rebuild(ctx, "c1")
	require.NoError(t, err)
	seedReaction(t, db, "r2", "c1", "like")

	r := event.NewRegistry().WithLedger(event.NewRedisLedger(client, "handled", time.Hour))
	failures := 1
	r.On(event.ReactionCreated,
		event.Typed(c.OnReactionCreated),
		func(context.Context, event.Envelope) error {
			if failures > 0 {
				failures--
				return errors.New("mark seen: db timeout")
			}
			return nil
		},
	)

	raw, err := json.Marshal(reactionOn("c1", "like"))
	require.NoError(t, err)
	e := event.Envelope{ID: "evt-r2", Type: event.ReactionCreated, Payload: raw}
	require.Error(t, r.Dispatch(ctx, e))
	require.NoError(t, r.Dispatch(ctx, e))

	assert.Equal(t, map[string]int64{"like": 2}, cachedCounts(t, store, "c1"))
}
