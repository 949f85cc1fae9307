package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/journeys/config"
	"github.com/d60-Lab/journeys/internal/model"
	"github.com/d60-Lab/journeys/internal/repository"
	"github.com/d60-Lab/journeys/internal/service"
	"github.com/d60-Lab/journeys/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// feedbench 在配置的数据库上灌入带时间戳并列的动态，逐页走完 discover 并校验无重复无遗漏
func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.AutoMigrate(db); err != nil {
		panic(err)
	}

	N := envInt("N", 20000) // 动态条数
	AUTHORS := envInt("AUTHORS", 200)
	TIES := envInt("TIES", 4) // 每个时间戳的条数
	PAGE := envInt("PAGE", cfg.Feed.PageSize)

	_ = db.Exec("DELETE FROM journeys").Error
	_ = db.Exec("DELETE FROM users").Error

	users := make([]model.User, AUTHORS)
	for i := range users {
		users[i] = model.User{ID: fmt.Sprintf("author%d", i), Username: fmt.Sprintf("author_%d", i)}
	}
	if err := db.CreateInBatches(&users, 1000).Error; err != nil {
		panic(err)
	}

	base := time.Now().Add(-time.Duration(N) * time.Second)
	rows := make([]model.Journey, N)
	for i := 0; i < N; i++ {
		ts := base.Add(time.Duration(i/TIES) * time.Second)
		rows[i] = model.Journey{
			ID:        uuid.NewString(),
			UserID:    users[i%AUTHORS].ID,
			Title:     fmt.Sprintf("journey %d", i),
			Tags:      []string{},
			Score:     ts.UnixNano(),
			CreatedAt: ts,
		}
	}
	if err := db.CreateInBatches(&rows, 1000).Error; err != nil {
		panic(err)
	}

	viewer := users[0].ID
	enricher := service.NewProfileEnricher(repository.NewUserRepository(db))
	feed := service.NewFeedAssembler(viewer, repository.NewJourneyRepository(db), enricher, service.WithPageSize(PAGE))

	var (
		lat   []time.Duration
		pages int
	)
	seen := make(map[string]struct{}, N)
	view := must(feed.Load(ctx, service.TabDiscover, true))
	for {
		pages++
		for _, e := range view.Entries {
			seen[e.ID] = struct{}{}
		}
		if !view.HasMore {
			break
		}
		st := time.Now()
		view = must(feed.Load(ctx, service.TabDiscover, false))
		lat = append(lat, time.Since(st))
	}

	own := (N + AUTHORS - 1) / AUTHORS
	fmt.Printf("N=%d AUTHORS=%d TIES=%d PAGE=%d\n", N, AUTHORS, TIES, PAGE)
	fmt.Printf("pages=%d visible=%d expected=%d profile_lookups=%d\n", pages, len(seen), N-own, enricher.Lookups())
	fmt.Printf("next-page latency: p50=%v p95=%v p99=%v\n", pct(lat, 0.50), pct(lat, 0.95), pct(lat, 0.99))
	if len(seen) != N-own {
		fmt.Println("MISMATCH: pagination dropped or duplicated entries")
		os.Exit(1)
	}
}
