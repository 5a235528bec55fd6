package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestStore_SetAndGetJSON(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SetJSON(ctx, "doc", map[string]int64{"like": 2, "love": 1}))

	var doc map[string]int64
	ok, err := s.GetJSON(ctx, "doc", "", &doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"like": 2, "love": 1}, doc)

	var like int64
	ok, err = s.GetJSON(ctx, "doc", "$.like", &like)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), like)

	ok, err = s.GetJSON(ctx, "doc", "$.wow", &like)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_EmptyDocumentStillExists(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SetJSON(ctx, "empty", map[string]int64{}))

	var doc map[string]int64
	ok, err := s.GetJSON(ctx, "empty", "", &doc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, doc)

	ok, err = s.GetJSON(ctx, "missing", "", &doc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetJSONReplacesDocument(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SetJSON(ctx, "doc", map[string]int64{"like": 2, "sad": 4}))
	require.NoError(t, s.SetJSON(ctx, "doc", map[string]int64{"like": 3}))

	var doc map[string]int64
	_, err := s.GetJSON(ctx, "doc", "", &doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"like": 3}, doc)
}

func TestStore_SetIfAbsentThenCounters(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.SetJSON(ctx, "doc", map[string]int64{}))

	set, err := s.SetJSONIfAbsent(ctx, "doc", "$.like", 1)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = s.SetJSONIfAbsent(ctx, "doc", "$.like", 1)
	require.NoError(t, err)
	assert.False(t, set)

	n, err := s.IncrementNumeric(ctx, "doc", "$.like")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DecrementNumeric(ctx, "doc", "like")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DecrementNumeric(ctx, "doc", "$.never")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
}

func TestStore_RejectsInvalidPath(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.IncrementNumeric(context.Background(), "doc", "$.")
	assert.Error(t, err)
	_, err = s.SetJSONIfAbsent(context.Background(), "doc", "$", 1)
	assert.Error(t, err)
}

func TestStore_MultiGetJSON(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.SetJSON(ctx, "a", map[string]int64{"like": 1}))
	require.NoError(t, s.SetJSON(ctx, "c", map[string]int64{"love": 5}))

	got, err := s.MultiGetJSON(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"like":1}`, string(got[0]))
	assert.Nil(t, got[1])

	var c map[string]int64
	require.NoError(t, json.Unmarshal(got[2], &c))
	assert.Equal(t, int64(5), c["love"])
}
