package service

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/content-fanout/config"
	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/queue"
	"github.com/d60-Lab/content-fanout/pkg/clock"
	"github.com/d60-Lab/content-fanout/pkg/database"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.InitDB(&config.Config{Database: config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		AutoMigrate:  true,
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func newTestQueue(t *testing.T) (*queue.Queue, *clock.Mock) {
	t.Helper()
	client, _ := newTestRedis(t)
	clk := clock.NewMock(testNow)
	return queue.New(client, "test").WithClock(clk), clk
}

func seedGroup(t *testing.T, db *gorm.DB, id string, state model.GroupState) {
	t.Helper()
	require.NoError(t, db.Create(&model.Group{ID: id, State: state, Privacy: model.GroupPrivacyOpen}).Error)
}

func seedMember(t *testing.T, db *gorm.DB, groupID, userID string) {
	t.Helper()
	require.NoError(t, db.Create(&model.GroupMember{GroupID: groupID, UserID: userID}).Error)
}

func seedContent(t *testing.T, db *gorm.DB, c model.Content, groupIDs ...string) {
	t.Helper()
	if c.Type == "" {
		c.Type = model.ContentTypePost
	}
	if c.CreatedBy == "" {
		c.CreatedBy = "owner"
	}
	require.NoError(t, db.Create(&c).Error)
	for _, g := range groupIDs {
		require.NoError(t, db.Create(&model.ContentGroup{ContentID: c.ID, GroupID: g}).Error)
	}
}

func publishedContent(id string) model.Content {
	at := testNow.Add(-time.Hour)
	return model.Content{ID: id, Status: model.ContentStatusPublished, PublishedAt: &at}
}

func newsfeedIDs(t *testing.T, db *gorm.DB, userID string) []string {
	t.Helper()
	var ids []string
	require.NoError(t, db.Model(&model.NewsfeedEntry{}).
		Where("user_id = ?", userID).
		Order("content_id").
		Pluck("content_id", &ids).Error)
	return ids
}

func queueOpts() queue.WorkerOptions {
	return queue.WorkerOptions{KeepFailed: true}
}
