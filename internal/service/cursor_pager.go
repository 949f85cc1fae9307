package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/d60-Lab/journeys/internal/model"
	"github.com/d60-Lab/journeys/internal/repository"
	"github.com/d60-Lab/journeys/pkg/metrics"
)

const DefaultPageSize = 10

// EntryQuerier 键集分页读取
type EntryQuerier interface {
	Query(ctx context.Context, q repository.JourneyQuery) ([]*model.Journey, error)
}

// Filter 服务端过滤条件；AuthorID 为空表示全部作者
type Filter struct {
	AuthorID string
}

func (f Filter) key() string { return "author=" + f.AuthorID }

// Page 一页结果；HasMore 按“本页是否满页”推断
type Page struct {
	Items   []*model.Journey
	Cursor  string
	HasMore bool
}

type cursorToken struct {
	Filter string `json:"f"`
	Score  int64  `json:"s"`
	ID     string `json:"i"`
}

func encodeCursor(f Filter, last *model.Journey) string {
	b, _ := json.Marshal(cursorToken{Filter: f.key(), Score: last.Score, ID: last.ID})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(f Filter, cursor string) (*repository.Keyset, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var tok cursorToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if tok.Filter != f.key() || tok.ID == "" {
		return nil, ErrInvalidCursor
	}
	return &repository.Keyset{Score: tok.Score, ID: tok.ID}, nil
}

// CursorPager wraps keyset pagination ordered by (score DESC, id DESC).
// Cursors are bound to the filter they were minted under.
type CursorPager struct {
	store EntryQuerier
	label string
}

// NewCursorPager label 仅用于指标
func NewCursorPager(store EntryQuerier, label string) *CursorPager {
	return &CursorPager{store: store, label: label}
}

func (p *CursorPager) FirstPage(ctx context.Context, f Filter, size int) (Page, error) {
	return p.fetch(ctx, f, nil, size, "first")
}

// NextPage 游标必须来自同一 filter 的上一页，否则返回 ErrInvalidCursor
func (p *CursorPager) NextPage(ctx context.Context, f Filter, cursor string, size int) (Page, error) {
	if cursor == "" {
		return Page{}, ErrInvalidCursor
	}
	after, err := decodeCursor(f, cursor)
	if err != nil {
		return Page{}, err
	}
	return p.fetch(ctx, f, after, size, "next")
}

func (p *CursorPager) fetch(ctx context.Context, f Filter, after *repository.Keyset, size int, kind string) (Page, error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	start := time.Now()
	items, err := p.store.Query(ctx, repository.JourneyQuery{AuthorID: f.AuthorID, After: after, Limit: size})
	metrics.PageFetchDuration.WithLabelValues(p.label, kind).Observe(time.Since(start).Seconds())
	if err != nil {
		return Page{}, wrapCtx(err)
	}

	page := Page{Items: items, HasMore: len(items) == size}
	if len(items) > 0 {
		page.Cursor = encodeCursor(f, items[len(items)-1])
	} else if after != nil {
		// 空页沿用原位置
		page.Cursor = encodeCursor(f, &model.Journey{Score: after.Score, ID: after.ID})
	}
	return page, nil
}
