package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/content-fanout/internal/model"
	"github.com/d60-Lab/content-fanout/internal/repository"
)

// pagedContents 固定 total 条内容，按 offset/limit 切页
type pagedContents struct {
	repository.ContentRepository
	total   int
	failAt  int // 第几次调用返回错误，0 表示不失败
	queries []model.GroupFanoutQuery
}

func (p *pagedContents) GetPaginatedPublishedContentInGroups(_ context.Context, q model.GroupFanoutQuery) ([]model.ContentRef, error) {
	p.queries = append(p.queries, q)
	if p.failAt > 0 && len(p.queries) == p.failAt {
		return nil, errors.New("db timeout")
	}
	var refs []model.ContentRef
	for i := q.Offset; i < p.total && i < q.Offset+q.Limit; i++ {
		refs = append(refs, model.ContentRef{ID: fmt.Sprintf("c%05d", i), Type: model.ContentTypePost})
	}
	return refs, nil
}

type recordingNewsfeed struct {
	repository.NewsfeedRepository
	attached [][]model.ContentRef
	detached [][]string
}

func (r *recordingNewsfeed) AttachContents(_ context.Context, _ string, refs []model.ContentRef) error {
	r.attached = append(r.attached, refs)
	return nil
}

func (r *recordingNewsfeed) DetachContents(_ context.Context, _ string, ids []string) error {
	r.detached = append(r.detached, ids)
	return nil
}

type mockMembers struct {
	mock.Mock
	repository.GroupMemberRepository
}

func (m *mockMembers) ListActiveGroupIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func TestFollowDispatcher_PagesUntilShortPage(t *testing.T) {
	ctx := context.Background()
	contents := &pagedContents{total: 2500}
	feeds := &recordingNewsfeed{}
	members := &mockMembers{}
	members.On("ListActiveGroupIDs", mock.Anything, "u1").Return([]string{"old", "new"}, nil).Once()

	d := NewFollowDispatcher(contents, members, feeds, nil, 1000)
	n, err := d.Dispatch(ctx, "u1", []string{"new"}, ActionFollow)
	require.NoError(t, err)
	assert.Equal(t, 2500, n)
	members.AssertExpectations(t)

	// 最后一页 500 条，不再多查一次
	require.Len(t, contents.queries, 3)
	for i, q := range contents.queries {
		assert.Equal(t, i*1000, q.Offset)
		assert.Equal(t, 1000, q.Limit)
		assert.Equal(t, []string{"new"}, q.GroupIDs)
		assert.Equal(t, []string{"old"}, q.NotInGroupIDs)
	}

	require.Len(t, feeds.attached, 3)
	seen := map[string]int{}
	for _, page := range feeds.attached {
		for _, ref := range page {
			seen[ref.ID]++
		}
	}
	assert.Len(t, seen, 2500)
	for id, c := range seen {
		if c != 1 {
			t.Errorf("content %s attached %d times", id, c)
		}
	}
}

func TestFollowDispatcher_ExactMultipleEndsOnEmptyPage(t *testing.T) {
	contents := &pagedContents{total: 2000}
	members := &mockMembers{}
	members.On("ListActiveGroupIDs", mock.Anything, "u1").Return(nil, nil)

	d := NewFollowDispatcher(contents, members, &recordingNewsfeed{}, nil, 1000)
	n, err := d.Dispatch(context.Background(), "u1", []string{"g"}, ActionFollow)
	require.NoError(t, err)
	assert.Equal(t, 2000, n)
	assert.Len(t, contents.queries, 3)
}

func TestFollowDispatcher_UnfollowDetachesPages(t *testing.T) {
	contents := &pagedContents{total: 3}
	feeds := &recordingNewsfeed{}
	members := &mockMembers{}
	members.On("ListActiveGroupIDs", mock.Anything, "u1").Return([]string{"other"}, nil)

	d := NewFollowDispatcher(contents, members, feeds, nil, 2)
	n, err := d.Dispatch(context.Background(), "u1", []string{"left"}, ActionUnfollow)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, feeds.attached)
	if diff := cmp.Diff([][]string{{"c00000", "c00001"}, {"c00002"}}, feeds.detached); diff != "" {
		t.Errorf("detached pages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"other"}, contents.queries[0].NotInGroupIDs)
}

func TestFollowDispatcher_AbortsOnPageError(t *testing.T) {
	contents := &pagedContents{total: 2500, failAt: 2}
	feeds := &recordingNewsfeed{}
	members := &mockMembers{}
	members.On("ListActiveGroupIDs", mock.Anything, "u1").Return(nil, nil)

	d := NewFollowDispatcher(contents, members, feeds, nil, 1000)
	n, err := d.Dispatch(context.Background(), "u1", []string{"g"}, ActionFollow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 1000")
	assert.Equal(t, 1000, n)
	assert.Len(t, contents.queries, 2, "no page after the failing one")
	assert.Len(t, feeds.attached, 1)
}

func TestFollowDispatcher_RejectsUnknownAction(t *testing.T) {
	d := NewFollowDispatcher(&pagedContents{}, &mockMembers{}, &recordingNewsfeed{}, nil, 10)
	_, err := d.Dispatch(context.Background(), "u1", []string{"g"}, FollowAction("MUTE"))
	assert.Error(t, err)
}

func TestFollowDispatcher_FollowAndUnfollowAgainstDatabase(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q, _ := newTestQueue(t)
	members := repository.NewGroupMemberRepository(db)
	d := NewFollowDispatcher(repository.NewContentRepository(db), members, repository.NewNewsfeedRepository(db), q, 2)

	seedGroup(t, db, "a", model.GroupStateActive)
	seedGroup(t, db, "b", model.GroupStateActive)
	seedContent(t, db, publishedContent("only-a-1"), "a")
	seedContent(t, db, publishedContent("only-a-2"), "a")
	seedContent(t, db, publishedContent("only-a-3"), "a")
	seedContent(t, db, publishedContent("shared"), "a", "b")
	seedContent(t, db, model.Content{ID: "draft", Status: model.ContentStatusDraft}, "a")

	// u1 原本在 b，已经能看到 shared
	seedMember(t, db, "b", "u1")
	require.NoError(t, repository.NewNewsfeedRepository(db).Attach(ctx, "u1", model.ContentRef{ID: "shared", Type: model.ContentTypePost}))

	require.NoError(t, members.Join(ctx, "a", "u1"))
	n, err := d.Dispatch(ctx, "u1", []string{"a"}, ActionFollow)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "shared is excluded through b")
	assert.Equal(t, []string{"only-a-1", "only-a-2", "only-a-3", "shared"}, newsfeedIDs(t, db, "u1"))

	require.NoError(t, members.Leave(ctx, "a", "u1"))
	_, err = d.Dispatch(ctx, "u1", []string{"a"}, ActionUnfollow)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, newsfeedIDs(t, db, "u1"))
}

func TestFollowDispatcher_EnqueueAndProcess(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q, _ := newTestQueue(t)
	d := NewFollowDispatcher(repository.NewContentRepository(db), repository.NewGroupMemberRepository(db), repository.NewNewsfeedRepository(db), q, 100)
	seedGroup(t, db, "a", model.GroupStateActive)
	seedContent(t, db, publishedContent("c1"), "a")
	seedMember(t, db, "a", "u1")

	require.NoError(t, d.Enqueue(ctx, FollowUnfollowDispatch{UserID: "u1", Action: ActionFollow, GroupIDs: []string{"a"}}))
	require.NoError(t, d.Enqueue(ctx, FollowUnfollowDispatch{UserID: "u1", Action: ActionFollow}), "empty dispatch is dropped")

	counts, err := q.Counts(ctx, QueueFollowUnfollow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)

	w := q.NewWorker(QueueFollowUnfollow, d.Process, queueOpts())
	ok, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"c1"}, newsfeedIDs(t, db, "u1"))
}

func TestFollowDispatcher_Reconcile(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	d := NewFollowDispatcher(repository.NewContentRepository(db), repository.NewGroupMemberRepository(db), repository.NewNewsfeedRepository(db), nil, 2)
	seedGroup(t, db, "a", model.GroupStateActive)
	seedGroup(t, db, "b", model.GroupStateActive)
	for i := 0; i < 5; i++ {
		seedContent(t, db, publishedContent(fmt.Sprintf("c%d", i)), "a", "b")
	}
	seedMember(t, db, "a", "u1")
	seedMember(t, db, "b", "u1")

	n, err := d.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, newsfeedIDs(t, db, "u1"), 5)

	n, err = d.Reconcile(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}
