package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/journeys/config"
	"github.com/d60-Lab/journeys/internal/model"
	"github.com/d60-Lab/journeys/internal/repository"
	"github.com/d60-Lab/journeys/internal/service"
	"github.com/d60-Lab/journeys/pkg/database"
)

// countingStore 统计真正落到数据库的资料查询
type countingStore struct {
	repository.UserRepository
	n atomic.Int64
}

func (s *countingStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.n.Add(1)
	return s.UserRepository.GetByID(ctx, id)
}

type scenarioResult struct {
	durations []time.Duration
	dbLookups int64
}

// profilebench 比较仅会话缓存与会话缓存 + redis 两种资料解析方式
func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	mustDo(database.AutoMigrate(db))

	USERS := envInt("USERS", 5000)
	SESSIONS := envInt("SESSIONS", 200)
	BATCH := envInt("BATCH", 10) // 每页作者数

	_ = db.Exec("DELETE FROM users").Error
	users := make([]model.User, USERS)
	for i := range users {
		users[i] = model.User{ID: fmt.Sprintf("u%d", i), Username: fmt.Sprintf("user_%d", i)}
	}
	mustDo(db.CreateInBatches(&users, 1000).Error)

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		mr := must(miniredis.Run())
		defer mr.Close()
		redisAddr = mr.Addr()
		fmt.Println("REDIS_ADDR not set, using in-process miniredis")
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()
	mustDo(client.Ping(ctx).Err())

	// 热门作者：80% 请求落在 10% 用户上
	rnd := rand.New(rand.NewSource(42))
	pages := make([][]string, SESSIONS)
	for s := range pages {
		ids := make([]string, BATCH)
		for i := range ids {
			if rnd.Float64() < 0.8 {
				ids[i] = users[rnd.Intn(USERS/10+1)%USERS].ID
			} else {
				ids[i] = users[rnd.Intn(USERS)].ID
			}
		}
		pages[s] = ids
	}

	repo := repository.NewUserRepository(db)
	local := run(ctx, repo, pages, nil)
	client.FlushAll(ctx)
	shared := run(ctx, repo, pages, service.NewRedisProfileCache(client, cfg.Redis.ProfileTTL))

	fmt.Printf("\nProfile resolution (%d sessions x %d authors, %d users)\n", SESSIONS, BATCH, USERS)
	fmt.Printf("%-18s avg=%v p95=%v p99=%v db_lookups=%d\n", "Session cache", avg(local.durations), pct(local.durations, 0.95), pct(local.durations, 0.99), local.dbLookups)
	fmt.Printf("%-18s avg=%v p95=%v p99=%v db_lookups=%d\n", "Session + redis", avg(shared.durations), pct(shared.durations, 0.95), pct(shared.durations, 0.99), shared.dbLookups)
}

func run(ctx context.Context, repo repository.UserRepository, pages [][]string, shared service.ProfileCache) scenarioResult {
	store := &countingStore{UserRepository: repo}
	out := make([]time.Duration, 0, len(pages))
	for _, ids := range pages {
		// 每个会话一个新的 enricher
		var opts []service.EnricherOption
		if shared != nil {
			opts = append(opts, service.WithSharedCache(shared))
		}
		e := service.NewProfileEnricher(store, opts...)
		start := time.Now()
		if _, err := e.ResolveMany(ctx, ids); err != nil {
			panic(err)
		}
		out = append(out, time.Since(start))
	}
	return scenarioResult{durations: out, dbLookups: store.n.Load()}
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
