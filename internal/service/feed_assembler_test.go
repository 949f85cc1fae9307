package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/journeys/internal/model"
)

func ids(v FeedView) []string {
	out := make([]string, 0, len(v.Entries))
	for _, e := range v.Entries {
		out = append(out, e.ID)
	}
	return out
}

// mixedFeed: me 与 a/b/c 交替发布，共 n 条
func mixedFeed(n int) []*model.Journey {
	authors := []string{"me", "a", "b", "c"}
	out := make([]*model.Journey, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, journey(fmt.Sprintf("j%03d", i), authors[i%len(authors)], t0.Add(time.Duration(i)*time.Minute)))
	}
	return out
}

func newAssembler(store *fakeEntryStore, profiles *fakeProfileStore, opts ...FeedOption) *FeedAssembler {
	return NewFeedAssembler("me", store, NewProfileEnricher(profiles), opts...)
}

func TestParseTab(t *testing.T) {
	tab, err := ParseTab("my-updates")
	require.NoError(t, err)
	assert.Equal(t, TabMine, tab)
	tab, err = ParseTab("discover")
	require.NoError(t, err)
	assert.Equal(t, TabDiscover, tab)
	_, err = ParseTab("trending")
	assert.ErrorIs(t, err, ErrInvalidTab)
}

func TestFeedAssembler_MineTab(t *testing.T) {
	store := newFakeEntryStore(mixedFeed(40)...)
	a := newAssembler(store, newFakeProfileStore(user("me")))
	ctx := context.Background()

	v, err := a.Load(ctx, TabMine, true)
	require.NoError(t, err)
	require.Len(t, v.Entries, 10)
	for _, e := range v.Entries {
		assert.Equal(t, "me", e.AuthorID)
		assert.Equal(t, "name-me", e.Author.Username)
		assert.NotNil(t, e.Tags)
	}
	assert.True(t, v.HasMore)
	assert.True(t, v.ShowLoadMore)

	// 40 条中 me 有 10 条；下一页为空并结束
	v, err = a.Load(ctx, TabMine, false)
	require.NoError(t, err)
	assert.Len(t, v.Entries, 10)
	assert.False(t, v.HasMore)
	assert.False(t, v.ShowLoadMore)

	before := store.queryCount()
	v, err = a.Load(ctx, TabMine, false)
	require.NoError(t, err)
	assert.Len(t, v.Entries, 10)
	assert.Equal(t, before, store.queryCount(), "exhausted feed does not fetch")
}

func TestFeedAssembler_DiscoverExcludesOwnEntries(t *testing.T) {
	store := newFakeEntryStore(mixedFeed(12)...)
	profiles := newFakeProfileStore(user("me"), user("a"), user("b"), user("c"))
	a := newAssembler(store, profiles)
	ctx := context.Background()

	v, err := a.Load(ctx, TabDiscover, true)
	require.NoError(t, err)
	// 拉取了 10 条，其中自己的 2 条不渲染
	assert.Len(t, v.Entries, 8)
	for _, e := range v.Entries {
		assert.NotEqual(t, "me", e.AuthorID)
	}
	assert.True(t, v.HasMore)

	v, err = a.Load(ctx, TabDiscover, false)
	require.NoError(t, err)
	assert.Len(t, v.Entries, 9)
	assert.False(t, v.HasMore)
}

func TestFeedAssembler_DiscoverOnlyOwnEntriesHidesLoadMore(t *testing.T) {
	var items []*model.Journey
	for i := 0; i < 15; i++ {
		items = append(items, journey(fmt.Sprintf("m%02d", i), "me", t0.Add(time.Duration(i)*time.Second)))
	}
	a := newAssembler(newFakeEntryStore(items...), newFakeProfileStore(user("me")))

	v, err := a.Load(context.Background(), TabDiscover, true)
	require.NoError(t, err)
	assert.Empty(t, v.Entries)
	assert.True(t, v.HasMore, "raw pager still reports more")
	assert.False(t, v.ShowLoadMore)
}

func TestFeedAssembler_EnrichmentDeduplicated(t *testing.T) {
	store := newFakeEntryStore(mixedFeed(10)...)
	profiles := newFakeProfileStore(user("me"), user("a"), user("b"), user("c"))
	enricher := NewProfileEnricher(profiles)
	a := NewFeedAssembler("me", store, enricher)

	// 10 条，4 个作者
	_, err := a.Load(context.Background(), TabDiscover, true)
	require.NoError(t, err)
	assert.EqualValues(t, 4, enricher.Lookups())

	_, err = a.Load(context.Background(), TabDiscover, true)
	require.NoError(t, err)
	assert.EqualValues(t, 4, enricher.Lookups(), "reload served from cache")
}

func TestFeedAssembler_MissingProfileKeepsEntry(t *testing.T) {
	store := newFakeEntryStore(journey("j1", "ghost", t0))
	a := newAssembler(store, newFakeProfileStore())

	v, err := a.Load(context.Background(), TabDiscover, true)
	require.NoError(t, err)
	require.Len(t, v.Entries, 1)
	assert.Equal(t, UnknownUsername, v.Entries[0].Author.Username)
}

func TestFeedAssembler_TabSwitchResets(t *testing.T) {
	store := newFakeEntryStore(mixedFeed(40)...)
	a := newAssembler(store, newFakeProfileStore(user("me"), user("a"), user("b"), user("c")))
	ctx := context.Background()

	_, err := a.Load(ctx, TabMine, true)
	require.NoError(t, err)

	// 未显式 reset 也会从头开始，不复用 mine 的游标
	v, err := a.Load(ctx, TabDiscover, false)
	require.NoError(t, err)
	assert.Equal(t, TabDiscover, v.Tab)
	assert.Equal(t, "j039", v.Entries[0].ID)
	assert.True(t, a.View().HasMore)
}

func TestFeedAssembler_PagerPerTab(t *testing.T) {
	a := newAssembler(newFakeEntryStore(), newFakeProfileStore())
	for _, tab := range []Tab{TabMine, TabDiscover} {
		require.Contains(t, a.pagers, tab)
		assert.Equal(t, string(tab), a.pagers[tab].label, "fetch metrics are labelled by tab")
	}
}

func TestFeedAssembler_LoadInFlightGuard(t *testing.T) {
	store := newFakeEntryStore(mixedFeed(40)...)
	a := newAssembler(store, newFakeProfileStore(user("me")))
	ctx := context.Background()

	_, err := a.Load(ctx, TabMine, true)
	require.NoError(t, err)

	gate := make(chan struct{})
	store.setGate(gate)
	done := make(chan error, 1)
	go func() {
		_, err := a.Load(ctx, TabMine, false)
		done <- err
	}()

	require.Eventually(t, func() bool { return a.View().Loading }, time.Second, 5*time.Millisecond)
	_, err = a.Load(ctx, TabMine, false)
	assert.ErrorIs(t, err, ErrLoadInFlight)
	assert.Equal(t, KindConflict, Classify(err))

	close(gate)
	require.NoError(t, <-done)
	assert.Len(t, a.View().Entries, 10)
}

func TestFeedAssembler_ResetSupersedesInFlight(t *testing.T) {
	store := newFakeEntryStore(mixedFeed(40)...)
	a := newAssembler(store, newFakeProfileStore(user("me"), user("a"), user("b"), user("c")))
	ctx := context.Background()

	gate := make(chan struct{})
	store.setGate(gate)
	stale := make(chan error, 1)
	go func() {
		_, err := a.Load(ctx, TabMine, true)
		stale <- err
	}()
	require.Eventually(t, func() bool { return store.queryCount() == 1 }, time.Second, 5*time.Millisecond)

	store.setGate(nil)
	v, err := a.Load(ctx, TabDiscover, true)
	require.NoError(t, err)

	err = <-stale
	assert.Equal(t, KindCancelled, Classify(err))
	close(gate)

	v2 := a.View()
	assert.Equal(t, TabDiscover, v2.Tab)
	assert.Equal(t, ids(v), ids(v2), "superseded load must not touch state")
}

func TestFeedAssembler_PaginationFailureKeepsPages(t *testing.T) {
	store := newFakeEntryStore(mixedFeed(40)...)
	a := newAssembler(store, newFakeProfileStore(user("me")))
	ctx := context.Background()

	_, err := a.Load(ctx, TabDiscover, true)
	require.NoError(t, err)
	before := ids(a.View())

	store.mu.Lock()
	store.queryErr = assert.AnError
	store.mu.Unlock()

	v, err := a.Load(ctx, TabDiscover, false)
	require.Error(t, err)
	assert.True(t, Classify(err).Retryable())
	assert.Equal(t, before, ids(v))
	assert.False(t, v.Loading)

	store.mu.Lock()
	store.queryErr = nil
	store.mu.Unlock()
	v, err = a.Load(ctx, TabDiscover, false)
	require.NoError(t, err)
	assert.Greater(t, len(v.Entries), len(before))
}

func TestFeedAssembler_FetchTimeout(t *testing.T) {
	store := newFakeEntryStore(mixedFeed(4)...)
	store.setGate(make(chan struct{}))
	a := newAssembler(store, newFakeProfileStore(), WithFetchTimeout(20*time.Millisecond))

	_, err := a.Load(context.Background(), TabMine, true)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, Classify(err))
	assert.True(t, Classify(err).Retryable())
}

func TestFeedAssembler_OptimisticDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("success removes entry", func(t *testing.T) {
		store := newFakeEntryStore(mixedFeed(8)...)
		a := newAssembler(store, newFakeProfileStore(user("me")))
		v, err := a.Load(ctx, TabMine, true)
		require.NoError(t, err)
		target := v.Entries[0].ID

		require.NoError(t, a.Delete(ctx, target))
		assert.NotContains(t, ids(a.View()), target)
		_, ok := a.Status(target)
		assert.False(t, ok)
	})

	t.Run("entry hidden while pending", func(t *testing.T) {
		store := newFakeEntryStore(mixedFeed(8)...)
		gated := &gatedDeleteStore{fakeEntryStore: store, gate: make(chan struct{})}
		a := NewFeedAssembler("me", gated, NewProfileEnricher(newFakeProfileStore()))
		v, err := a.Load(ctx, TabMine, true)
		require.NoError(t, err)
		target := v.Entries[0].ID

		done := make(chan error, 1)
		go func() { done <- a.Delete(ctx, target) }()
		require.Eventually(t, func() bool {
			st, _ := a.Status(target)
			return st == StatusPendingDelete
		}, time.Second, 5*time.Millisecond)
		assert.NotContains(t, ids(a.View()), target)

		close(gated.gate)
		require.NoError(t, <-done)
	})

	t.Run("failure is not rolled back", func(t *testing.T) {
		store := newFakeEntryStore(mixedFeed(8)...)
		a := newAssembler(store, newFakeProfileStore(user("me")))
		v, err := a.Load(ctx, TabMine, true)
		require.NoError(t, err)
		target := v.Entries[0].ID

		store.mu.Lock()
		store.deleteErr = assert.AnError
		store.mu.Unlock()

		err = a.Delete(ctx, target)
		require.Error(t, err)
		assert.NotContains(t, ids(a.View()), target)
		st, ok := a.Status(target)
		require.True(t, ok)
		assert.Equal(t, StatusDeleteFailed, st)

		// 只有 reset 才恢复权威状态
		v, err = a.Load(ctx, TabMine, true)
		require.NoError(t, err)
		assert.Contains(t, ids(v), target)
	})

	t.Run("already gone in store counts as success", func(t *testing.T) {
		store := newFakeEntryStore(mixedFeed(8)...)
		a := newAssembler(store, newFakeProfileStore(user("me")))
		v, err := a.Load(ctx, TabMine, true)
		require.NoError(t, err)
		target := v.Entries[0].ID
		require.NoError(t, store.DeleteByID(ctx, target))

		require.NoError(t, a.Delete(ctx, target))
		assert.NotContains(t, ids(a.View()), target)
	})

	t.Run("not owner and unknown", func(t *testing.T) {
		store := newFakeEntryStore(mixedFeed(8)...)
		a := newAssembler(store, newFakeProfileStore())
		_, err := a.Load(ctx, TabDiscover, true)
		require.NoError(t, err)

		assert.ErrorIs(t, a.Delete(ctx, "j001"), ErrNotOwner)
		assert.ErrorIs(t, a.Delete(ctx, "nope"), ErrNotFound)
	})
}

type gatedDeleteStore struct {
	*fakeEntryStore
	gate chan struct{}
}

func (s *gatedDeleteStore) DeleteByID(ctx context.Context, id string) error {
	<-s.gate
	return s.fakeEntryStore.DeleteByID(ctx, id)
}
