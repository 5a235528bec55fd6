package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/content-fanout/config"
	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		AutoMigrate:  true,
	}}
	db, err := database.InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func seedGroup(t *testing.T, db *gorm.DB, id string, state model.GroupState) {
	t.Helper()
	require.NoError(t, db.Create(&model.Group{ID: id, State: state, Privacy: model.GroupPrivacyOpen}).Error)
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

func published(id string) model.Content {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return model.Content{ID: id, Status: model.ContentStatusPublished, PublishedAt: &at}
}

func refIDs(refs []model.ContentRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

func TestContentRepository_FindContentByIDInActiveGroup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewContentRepository(db)
	seedGroup(t, db, "g1", model.GroupStateActive)
	seedGroup(t, db, "g2", model.GroupStateArchived)
	seedContent(t, db, published("c1"), "g1", "g2")
	seedContent(t, db, published("c2"), "g2")

	c, err := repo.FindContentByIDInActiveGroup(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []string{"g1"}, c.GroupIDs)

	c, err = repo.FindContentByIDInActiveGroup(ctx, "c2")
	require.NoError(t, err)
	assert.Nil(t, c, "only archived groups")

	c, err = repo.FindContentByIDInActiveGroup(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestContentRepository_HasBelongActiveGroupIDs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewContentRepository(db)
	seedGroup(t, db, "a", model.GroupStateActive)
	seedGroup(t, db, "b", model.GroupStateActive)
	seedContent(t, db, published("c1"), "a")

	tests := []struct {
		name   string
		groups []string
		want   bool
	}{
		{"member of content group", []string{"a", "b"}, true},
		{"no overlap", []string{"b"}, false},
		{"no groups", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.HasBelongActiveGroupIDs(ctx, "c1", tt.groups)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentRepository_PaginatedPublishedContentExcludesNotInGroups(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewContentRepository(db)
	seedGroup(t, db, "new", model.GroupStateActive)
	seedGroup(t, db, "old", model.GroupStateActive)

	seedContent(t, db, published("c1"), "new")
	seedContent(t, db, published("c2"), "new", "old")
	seedContent(t, db, published("c3"), "new")
	hidden := published("c4")
	hidden.IsHidden = true
	seedContent(t, db, hidden, "new")
	seedContent(t, db, model.Content{ID: "c5", Status: model.ContentStatusDraft}, "new")

	q := model.GroupFanoutQuery{GroupIDs: []string{"new"}, NotInGroupIDs: []string{"old"}, Limit: 1}
	var got []string
	for q.Offset = 0; ; q.Offset += q.Limit {
		refs, err := repo.GetPaginatedPublishedContentInGroups(ctx, q)
		require.NoError(t, err)
		if len(refs) == 0 {
			break
		}
		got = append(got, refIDs(refs)...)
	}
	if diff := cmp.Diff([]string{"c1", "c3"}, got); diff != "" {
		t.Errorf("paged contents mismatch (-want +got):\n%s", diff)
	}
}

func TestContentRepository_CursorPaginatedPublishedContent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewContentRepository(db)
	seedGroup(t, db, "g", model.GroupStateActive)
	for i := 1; i <= 5; i++ {
		seedContent(t, db, published(fmt.Sprintf("c%d", i)), "g")
	}

	var got []string
	q := GroupCursorQuery{GroupIDs: []string{"g"}, Limit: 2}
	for {
		refs, next, err := repo.GetCursorPaginatedPublishedContentInGroups(ctx, q)
		require.NoError(t, err)
		got = append(got, refIDs(refs)...)
		if next == "" {
			break
		}
		q.After = next
	}
	assert.Equal(t, []string{"c5", "c4", "c3", "c2", "c1"}, got)
}

func TestContentRepository_GetScheduledContentPages(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewContentRepository(db)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		seedContent(t, db, model.Content{ID: fmt.Sprintf("s%d", i), Status: model.ContentStatusWaitingSchedule, ScheduledAt: &at})
	}
	future := base.Add(time.Hour)
	seedContent(t, db, model.Content{ID: "future", Status: model.ContentStatusWaitingSchedule, ScheduledAt: &future})
	seedContent(t, db, model.Content{ID: "draft", Status: model.ContentStatusDraft, ScheduledAt: &base})

	q := ScheduledContentQuery{Limit: 2, Order: SortAsc, Before: base.Add(10 * time.Minute)}
	var (
		got   []string
		pages int
	)
	for {
		rows, meta, err := repo.GetScheduledContent(ctx, q)
		require.NoError(t, err)
		pages++
		for _, c := range rows {
			got = append(got, c.ID)
		}
		if !meta.HasNextPage {
			break
		}
		q.After = meta.EndCursor
	}
	assert.Equal(t, []string{"s0", "s1", "s2", "s3", "s4"}, got)
	assert.Equal(t, 3, pages)

	_, _, err := repo.GetScheduledContent(ctx, ScheduledContentQuery{Limit: 2, Before: base, After: "not-a-cursor"})
	assert.Error(t, err)
}

func TestGroupMemberRepository_MembersAndActiveGroups(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewGroupMemberRepository(db)
	seedGroup(t, db, "a", model.GroupStateActive)
	seedGroup(t, db, "b", model.GroupStateActive)
	seedGroup(t, db, "z", model.GroupStateArchived)

	require.NoError(t, repo.Join(ctx, "a", "u1"))
	require.NoError(t, repo.Join(ctx, "a", "u2"))
	require.NoError(t, repo.Join(ctx, "b", "u2"))
	require.NoError(t, repo.Join(ctx, "a", "u3"))
	require.NoError(t, repo.Join(ctx, "z", "u1"))
	require.NoError(t, repo.Leave(ctx, "a", "u3"))

	members, err := repo.GetGroupMembers(ctx, model.GroupFanoutQuery{GroupIDs: []string{"a"}, NotInGroupIDs: []string{"b"}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	groups, err := repo.ListActiveGroupIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, groups, "archived group is not active")

	require.NoError(t, repo.Join(ctx, "a", "u3"))
	members, err = repo.GetGroupMembers(ctx, model.GroupFanoutQuery{GroupIDs: []string{"a"}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, members)
}

func TestNewsfeedRepository_AttachIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewNewsfeedRepository(db)
	ref := model.ContentRef{ID: "c1", Type: model.ContentTypePost}

	require.NoError(t, repo.Attach(ctx, "u1", ref))
	require.NoError(t, repo.Attach(ctx, "u1", ref))
	require.NoError(t, repo.AttachContents(ctx, "u1", []model.ContentRef{ref, {ID: "c2", Type: model.ContentTypeArticle}}))

	entries, err := repo.ListByUser(ctx, "u1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, repo.MarkSeen(ctx, "u1", "c1"))
	require.NoError(t, repo.DetachContents(ctx, "u1", []string{"c2"}))
	entries, err = repo.ListByUser(ctx, "u1", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsSeen)

	require.NoError(t, repo.Detach(ctx, "u1", "c1"))
	require.NoError(t, repo.Detach(ctx, "u1", "c1"))
	entries, err = repo.ListByUser(ctx, "u1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReactionRepository_CountByContent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewReactionRepository(db)

	add := func(id string, target model.ReactionTarget, targetID, name string) {
		require.NoError(t, repo.Create(ctx, &model.Reaction{ID: id, TargetType: target, TargetID: targetID, ReactionName: name, CreatedBy: "u"}))
	}
	add("r1", model.ReactionTargetContent, "c1", "like")
	add("r2", model.ReactionTargetContent, "c1", "like")
	add("r3", model.ReactionTargetContent, "c1", "love")
	add("r4", model.ReactionTargetComment, "c1", "like")
	add("r5", model.ReactionTargetContent, "c2", "like")
	require.NoError(t, repo.Delete(ctx, "r3"))

	counts, err := repo.CountByContent(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"like": 2}, counts)

	counts, err = repo.CountByContent(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestCursor_RoundTripAndRejects(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 0, 0, 123000, time.UTC)
	gotAt, gotID, err := decodeTimeCursor(encodeTimeCursor(at, "c9"))
	require.NoError(t, err)
	assert.True(t, at.Equal(gotAt))
	assert.Equal(t, "c9", gotID)

	for _, bad := range []string{"%%%", encodeIDCursor("x")} {
		_, _, err := decodeTimeCursor(bad)
		assert.Error(t, err, bad)
	}
}
