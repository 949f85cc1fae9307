package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/journeys/internal/model"
	"github.com/d60-Lab/journeys/pkg/logger"
	"github.com/d60-Lab/journeys/pkg/metrics"
)

const (
	DeleteSucceededMessage = "Your journey update has been deleted successfully."
	DeleteFailedMessage    = "There was a problem deleting your journey update."
)

// Tab 动态页签
type Tab string

const (
	TabMine     Tab = "mine"
	TabDiscover Tab = "discover"
)

// ParseTab 兼容前端旧值 my-updates
func ParseTab(s string) (Tab, error) {
	switch s {
	case "", "mine", "my-updates":
		return TabMine, nil
	case "discover":
		return TabDiscover, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTab, s)
	}
}

// EntryStatus 乐观删除的三态
type EntryStatus int

const (
	StatusConfirmed EntryStatus = iota
	StatusPendingDelete
	StatusDeleteFailed
)

func (s EntryStatus) String() string {
	switch s {
	case StatusPendingDelete:
		return "pending_delete"
	case StatusDeleteFailed:
		return "delete_failed"
	default:
		return "confirmed"
	}
}

// FeedEntry 动态条目 + 作者快照
type FeedEntry struct {
	ID        string      `json:"id"`
	AuthorID  string      `json:"author_id"`
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	ImageURL  *string     `json:"image_url"`
	Tags      []string    `json:"tags"`
	Likes     int         `json:"likes"`
	CreatedAt time.Time   `json:"created_at"`
	Author    Profile     `json:"author"`
	Status    EntryStatus `json:"-"`
}

func newFeedEntry(j *model.Journey, author Profile) *FeedEntry {
	j.Normalize()
	return &FeedEntry{
		ID:        j.ID,
		AuthorID:  j.UserID,
		Title:     j.Title,
		Content:   j.Content,
		ImageURL:  j.ImageURL,
		Tags:      j.Tags,
		Likes:     j.Likes,
		CreatedAt: j.CreatedAt,
		Author:    author,
	}
}

// FeedView 渲染层直接消费的状态
type FeedView struct {
	Tab          Tab         `json:"tab"`
	Entries      []FeedEntry `json:"entries"`
	HasMore      bool        `json:"has_more"`
	ShowLoadMore bool        `json:"show_load_more"`
	Loading      bool        `json:"loading"`
}

// EntryStore 动态流所需的存储能力
type EntryStore interface {
	EntryQuerier
	DeleteByID(ctx context.Context, id string) error
}

// FeedAssembler is the per-session read model behind the journeys screen.
// Only one page load runs at a time; a reset supersedes an in-flight load.
type FeedAssembler struct {
	currentUser  string
	store        EntryStore
	pagers       map[Tab]*CursorPager
	enricher     *ProfileEnricher
	pageSize     int
	fetchTimeout time.Duration

	mu        sync.Mutex
	tab       Tab
	entries   []*FeedEntry
	cursor    string
	hasMore   bool
	started   bool
	loading   bool
	gen       uint64
	cancelRun context.CancelFunc
}

type FeedOption func(*FeedAssembler)

func WithPageSize(n int) FeedOption {
	return func(a *FeedAssembler) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// WithFetchTimeout bounds one Load (page fetch plus enrichment).
func WithFetchTimeout(d time.Duration) FeedOption {
	return func(a *FeedAssembler) { a.fetchTimeout = d }
}

func NewFeedAssembler(currentUser string, store EntryStore, enricher *ProfileEnricher, opts ...FeedOption) *FeedAssembler {
	a := &FeedAssembler{
		currentUser: currentUser,
		store:       store,
		pagers: map[Tab]*CursorPager{
			TabMine:     NewCursorPager(store, string(TabMine)),
			TabDiscover: NewCursorPager(store, string(TabDiscover)),
		},
		enricher: enricher,
		pageSize: DefaultPageSize,
		tab:      TabMine,
		hasMore:  true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FeedAssembler) filterFor(tab Tab) Filter {
	if tab == TabMine {
		return Filter{AuthorID: a.currentUser}
	}
	return Filter{}
}

// Load fetches the first page (reset, or a tab different from the current
// one) or the next page. A non-reset Load while another is running returns
// ErrLoadInFlight; once exhausted it returns the current view without I/O.
func (a *FeedAssembler) Load(ctx context.Context, tab Tab, reset bool) (FeedView, error) {
	if tab != TabMine && tab != TabDiscover {
		return FeedView{}, ErrInvalidTab
	}

	a.mu.Lock()
	if tab != a.tab || !a.started {
		reset = true
	}
	if !reset {
		if a.loading {
			a.mu.Unlock()
			return FeedView{}, ErrLoadInFlight
		}
		if !a.hasMore {
			v := a.viewLocked()
			a.mu.Unlock()
			return v, nil
		}
	}
	if a.cancelRun != nil {
		a.cancelRun()
	}
	if reset {
		a.tab = tab
		a.entries = nil
		a.cursor = ""
		a.hasMore = true
		a.started = true
	}
	a.gen++
	gen := a.gen
	a.loading = true

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if a.fetchTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, a.fetchTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	a.cancelRun = cancel
	filter := a.filterFor(tab)
	pager := a.pagers[tab]
	cursor := a.cursor
	a.mu.Unlock()

	var (
		page Page
		err  error
	)
	if cursor == "" {
		page, err = pager.FirstPage(runCtx, filter, a.pageSize)
	} else {
		page, err = pager.NextPage(runCtx, filter, cursor, a.pageSize)
	}

	var profiles map[string]Profile
	if err == nil {
		ids := make([]string, 0, len(page.Items))
		for _, j := range page.Items {
			ids = append(ids, j.UserID)
		}
		profiles, err = a.enricher.ResolveMany(runCtx, ids)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		// 已被更新的 reset 取代，结果丢弃
		cancel()
		return a.viewLocked(), ErrCancelled
	}
	cancel()
	a.cancelRun = nil
	a.loading = false

	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			logger.Error("feed cursor rejected", zap.String("user", a.currentUser), zap.String("tab", string(tab)), zap.Error(err))
		}
		return a.viewLocked(), err
	}

	seen := make(map[string]struct{}, len(a.entries))
	for _, e := range a.entries {
		seen[e.ID] = struct{}{}
	}
	for _, j := range page.Items {
		if _, dup := seen[j.ID]; dup {
			continue
		}
		seen[j.ID] = struct{}{}
		a.entries = append(a.entries, newFeedEntry(j, profiles[j.UserID]))
	}
	if page.Cursor != "" {
		a.cursor = page.Cursor
	}
	a.hasMore = page.HasMore

	logger.Debug("feed page loaded",
		zap.String("user", a.currentUser),
		zap.String("tab", string(tab)),
		zap.Int("items", len(page.Items)),
		zap.Bool("has_more", page.HasMore),
	)
	return a.viewLocked(), nil
}

// visible 页面可见：未被乐观删除；discover 不显示自己的动态
func (a *FeedAssembler) visible(e *FeedEntry) bool {
	if e.Status != StatusConfirmed {
		return false
	}
	return a.tab != TabDiscover || e.AuthorID != a.currentUser
}

func (a *FeedAssembler) viewLocked() FeedView {
	v := FeedView{Tab: a.tab, HasMore: a.hasMore, Loading: a.loading, Entries: []FeedEntry{}}
	for _, e := range a.entries {
		if a.visible(e) {
			v.Entries = append(v.Entries, *e)
		}
	}
	v.ShowLoadMore = a.hasMore && (a.tab == TabMine || len(v.Entries) > 0)
	return v
}

// View returns the current rendered state without I/O.
func (a *FeedAssembler) View() FeedView {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

// Status reports the optimistic-delete state of an accumulated entry.
func (a *FeedAssembler) Status(id string) (EntryStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e := a.findLocked(id); e != nil {
		return e.Status, true
	}
	return 0, false
}

func (a *FeedAssembler) findLocked(id string) *FeedEntry {
	for _, e := range a.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Delete hides the entry immediately, then deletes it in the store. A failed
// store delete leaves the entry hidden as StatusDeleteFailed until the next reset.
func (a *FeedAssembler) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	e := a.findLocked(id)
	switch {
	case e == nil:
		a.mu.Unlock()
		return ErrNotFound
	case e.AuthorID != a.currentUser:
		a.mu.Unlock()
		return ErrNotOwner
	case e.Status == StatusPendingDelete:
		a.mu.Unlock()
		return nil
	}
	e.Status = StatusPendingDelete
	a.mu.Unlock()

	err := a.store.DeleteByID(ctx, id)
	if err != nil && Classify(err) == KindNotFound {
		err = nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		metrics.DeleteFailures.Inc()
		logger.Warn("journey delete failed", zap.String("user", a.currentUser), zap.String("id", id), zap.Error(err))
		// reset 之后 e 已不在累积列表中，修改它不影响视图
		e.Status = StatusDeleteFailed
		return wrapCtx(err)
	}
	for i, cur := range a.entries {
		if cur == e {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			break
		}
	}
	return nil
}
