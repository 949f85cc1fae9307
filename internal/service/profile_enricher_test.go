package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileEnricher_CacheHit(t *testing.T) {
	store := newFakeProfileStore(user("u1"))
	e := NewProfileEnricher(store)
	ctx := context.Background()

	p, err := e.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "name-u1", p.Username)
	assert.Equal(t, "https://img/u1", p.Avatar)
	assert.False(t, p.Fallback)

	p2, err := e.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, p, p2)
	assert.Equal(t, 1, store.callsFor("u1"))
	assert.EqualValues(t, 1, e.Lookups())
}

func TestProfileEnricher_Fallback(t *testing.T) {
	t.Run("lookup error is cached as fallback", func(t *testing.T) {
		store := newFakeProfileStore()
		store.fail["u1"] = assert.AnError
		e := NewProfileEnricher(store)

		p, err := e.Resolve(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, UnknownUsername, p.Username)
		assert.Equal(t, "", p.Avatar)
		assert.True(t, p.Fallback)

		_, _ = e.Resolve(context.Background(), "u1")
		assert.Equal(t, 1, store.callsFor("u1"), "no automatic retry")
	})

	t.Run("missing user", func(t *testing.T) {
		e := NewProfileEnricher(newFakeProfileStore())
		p, err := e.Resolve(context.Background(), "ghost")
		require.NoError(t, err)
		assert.Equal(t, UnknownUsername, p.Username)
	})

	t.Run("empty username", func(t *testing.T) {
		u := user("u1")
		u.Username = ""
		e := NewProfileEnricher(newFakeProfileStore(u))
		p, err := e.Resolve(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, UnknownUsername, p.Username)
		assert.Equal(t, "https://img/u1", p.Avatar)
	})

	t.Run("lookup timeout degrades", func(t *testing.T) {
		store := newFakeProfileStore(user("slow"))
		store.gate("slow")
		e := NewProfileEnricher(store, WithLookupTimeout(20*time.Millisecond))
		p, err := e.Resolve(context.Background(), "slow")
		require.NoError(t, err)
		assert.True(t, p.Fallback)
	})
}

func TestProfileEnricher_CoalescesConcurrentMisses(t *testing.T) {
	store := newFakeProfileStore(user("u1"))
	gate := store.gate("u1")
	store.called = make(chan string, 16)
	e := NewProfileEnricher(store)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Profile, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := e.Resolve(context.Background(), "u1")
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}

	<-store.called
	// 让其余调用方进入等待
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, store.callsFor("u1"))
	for _, p := range results {
		assert.Equal(t, "name-u1", p.Username)
	}
}

func TestProfileEnricher_CancelledCaller(t *testing.T) {
	store := newFakeProfileStore(user("u1"))
	gate := store.gate("u1")
	store.called = make(chan string, 4)
	e := NewProfileEnricher(store)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := e.Resolve(leaderCtx, "u1")
		leaderErr <- err
	}()
	<-store.called

	follower := make(chan Profile, 1)
	go func() {
		p, err := e.Resolve(context.Background(), "u1")
		assert.NoError(t, err)
		follower <- p
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	err := <-leaderErr
	assert.Equal(t, KindCancelled, Classify(err))

	// 放弃的调用方不会中断共享查询
	close(gate)
	select {
	case p := <-follower:
		assert.Equal(t, "name-u1", p.Username)
		assert.False(t, p.Fallback)
	case <-time.After(2 * time.Second):
		t.Fatal("follower never resolved")
	}
	assert.Equal(t, 1, store.callsFor("u1"))
}

func TestProfileEnricher_AbandonedLookupStillCaches(t *testing.T) {
	store := newFakeProfileStore(user("u1"))
	gate := store.gate("u1")
	store.called = make(chan string, 4)
	e := NewProfileEnricher(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Resolve(ctx, "u1")
		done <- err
	}()
	<-store.called
	cancel()
	assert.Equal(t, KindCancelled, Classify(<-done))

	close(gate)
	require.Eventually(t, func() bool {
		_, ok := e.cached("u1")
		return ok
	}, time.Second, 5*time.Millisecond)

	p, err := e.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "name-u1", p.Username)
	assert.Equal(t, 1, store.callsFor("u1"))
}

func TestProfileEnricher_ResolveManyDedup(t *testing.T) {
	store := newFakeProfileStore(user("a"), user("b"), user("c"))
	e := NewProfileEnricher(store)

	ids := []string{"a", "b", "a", "c", "b", "a", "a"}
	got, err := e.ResolveMany(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.EqualValues(t, 3, e.Lookups())
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, store.callsFor(id))
		assert.Equal(t, "name-"+id, got[id].Username)
	}
}

func TestProfileEnricher_Reset(t *testing.T) {
	store := newFakeProfileStore(user("u1"))
	e := NewProfileEnricher(store)
	_, _ = e.Resolve(context.Background(), "u1")
	e.Reset()
	_, _ = e.Resolve(context.Background(), "u1")
	assert.Equal(t, 2, store.callsFor("u1"))
}

func TestProfileEnricher_RedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	shared := NewRedisProfileCache(client, time.Minute)

	store := newFakeProfileStore(user("u1"))
	store.fail["broken"] = assert.AnError

	first := NewProfileEnricher(store, WithSharedCache(shared))
	_, err := first.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	_, err = first.Resolve(context.Background(), "broken")
	require.NoError(t, err)

	assert.True(t, mr.Exists("profile:u1"))
	assert.False(t, mr.Exists("profile:broken"), "fallbacks stay session-local")

	second := NewProfileEnricher(store, WithSharedCache(shared))
	p, err := second.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "name-u1", p.Username)
	assert.EqualValues(t, 0, second.Lookups())
	assert.Equal(t, 1, store.callsFor("u1"))
}
