package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/d60-Lab/journeys/internal/model"
	"github.com/d60-Lab/journeys/pkg/logger"
	"github.com/d60-Lab/journeys/pkg/metrics"
)

const (
	UnknownUsername = "Unknown"

	// DefaultLookupTimeout 未配置时单次资料查询的上限
	DefaultLookupTimeout = 5 * time.Second
)

// Profile 冗余到动态/会话上的作者信息
type Profile struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	// Fallback 表示查询失败或用户不存在后的占位
	Fallback bool `json:"fallback,omitempty"`
}

func fallbackProfile(userID string) Profile {
	return Profile{UserID: userID, Username: UnknownUsername, Avatar: "", Fallback: true}
}

// ProfileStore is the lookup the enricher falls back to on a cache miss.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// ProfileCache is an optional shared tier consulted before the store.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (Profile, bool)
	Set(ctx context.Context, p Profile)
}

// ProfileEnricher resolves user ids to profiles with a session-lifetime cache.
// Concurrent misses for the same id share one store lookup.
type ProfileEnricher struct {
	store   ProfileStore
	shared  ProfileCache
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]Profile
	group singleflight.Group

	lookups atomic.Int64
}

type EnricherOption func(*ProfileEnricher)

// WithSharedCache adds a second cache tier (e.g. redis) between memory and the store.
func WithSharedCache(c ProfileCache) EnricherOption {
	return func(e *ProfileEnricher) { e.shared = c }
}

// WithLookupTimeout bounds a single store lookup; a timed-out lookup degrades to the fallback.
func WithLookupTimeout(d time.Duration) EnricherOption {
	return func(e *ProfileEnricher) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewProfileEnricher(store ProfileStore, opts ...EnricherOption) *ProfileEnricher {
	e := &ProfileEnricher{store: store, timeout: DefaultLookupTimeout, cache: make(map[string]Profile)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ProfileEnricher) cached(userID string) (Profile, bool) {
	e.mu.RLock()
	p, ok := e.cache[userID]
	e.mu.RUnlock()
	return p, ok
}

func (e *ProfileEnricher) remember(p Profile) {
	e.mu.Lock()
	e.cache[p.UserID] = p
	e.mu.Unlock()
}

// Resolve returns the profile for userID. Lookup failures and missing users
// yield the "Unknown" fallback; the only errors returned are cancellation or
// deadline of ctx itself, in which case the profile must be ignored. A caller
// giving up does not abort the shared lookup, which still fills the cache.
func (e *ProfileEnricher) Resolve(ctx context.Context, userID string) (Profile, error) {
	if p, ok := e.cached(userID); ok {
		metrics.ProfileCacheHits.WithLabelValues("memory").Inc()
		return p, nil
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, wrapCtx(err)
	}

	lctx := context.WithoutCancel(ctx)
	ch := e.group.DoChan(userID, func() (interface{}, error) {
		return e.lookup(lctx, userID), nil
	})
	select {
	case <-ctx.Done():
		return Profile{}, wrapCtx(ctx.Err())
	case res := <-ch:
		return res.Val.(Profile), nil
	}
}

// lookup runs once per in-flight userID, detached from any single caller and
// bounded by the lookup timeout.
func (e *ProfileEnricher) lookup(ctx context.Context, userID string) Profile {
	if e.shared != nil {
		if p, ok := e.shared.Get(ctx, userID); ok {
			metrics.ProfileCacheHits.WithLabelValues("shared").Inc()
			e.remember(p)
			return p
		}
	}

	lctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	e.lookups.Add(1)
	u, err := e.store.GetByID(lctx, userID)

	var p Profile
	switch {
	case err != nil:
		kind := Classify(err)
		metrics.ProfileLookups.WithLabelValues(kind.String()).Inc()
		logger.Warn("profile lookup failed, using fallback", zap.String("user", userID), zap.String("kind", kind.String()), zap.Error(err))
		p = fallbackProfile(userID)
	case u == nil:
		metrics.ProfileLookups.WithLabelValues(KindNotFound.String()).Inc()
		p = fallbackProfile(userID)
	default:
		metrics.ProfileLookups.WithLabelValues("ok").Inc()
		p = Profile{UserID: userID, Username: u.Username, Avatar: u.ProfileImage}
		if p.Username == "" {
			p.Username = UnknownUsername
		}
		if e.shared != nil {
			e.shared.Set(ctx, p)
		}
	}
	e.remember(p)
	return p
}

// ResolveMany resolves the distinct ids concurrently. Duplicate ids cost one lookup.
func (e *ProfileEnricher) ResolveMany(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	uniq := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		uniq[id] = struct{}{}
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	out := make(map[string]Profile, len(uniq))
	for id := range uniq {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p, err := e.Resolve(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			out[id] = p
		}(id)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Lookups reports how many store lookups were issued.
func (e *ProfileEnricher) Lookups() int64 { return e.lookups.Load() }

// Reset drops the in-memory tier, e.g. on logout.
func (e *ProfileEnricher) Reset() {
	e.mu.Lock()
	e.cache = make(map[string]Profile)
	e.mu.Unlock()
}
