package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/journeys/internal/model"
	"github.com/d60-Lab/journeys/internal/repository"
)

// fakeEntryStore 内存版键集分页
type fakeEntryStore struct {
	mu        sync.Mutex
	items     []*model.Journey
	queries   int
	queryErr  error
	deleteErr error
	gate      chan struct{}
}

func newFakeEntryStore(items ...*model.Journey) *fakeEntryStore {
	return &fakeEntryStore{items: items}
}

func (s *fakeEntryStore) Query(ctx context.Context, q repository.JourneyQuery) ([]*model.Journey, error) {
	s.mu.Lock()
	s.queries++
	gate := s.gate
	err := s.queryErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]*model.Journey(nil), s.items...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID > sorted[j].ID
	})
	var out []*model.Journey
	for _, j := range sorted {
		if q.AuthorID != "" && j.UserID != q.AuthorID {
			continue
		}
		if q.After != nil && !(j.Score < q.After.Score || (j.Score == q.After.Score && j.ID < q.After.ID)) {
			continue
		}
		cp := *j
		out = append(out, &cp)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeEntryStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for i, j := range s.items {
		if j.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *fakeEntryStore) setGate(g chan struct{}) {
	s.mu.Lock()
	s.gate = g
	s.mu.Unlock()
}

func (s *fakeEntryStore) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

func journey(id, author string, ts time.Time) *model.Journey {
	return &model.Journey{ID: id, UserID: author, Title: "title " + id, CreatedAt: ts, Score: ts.UnixNano()}
}

// fakeProfileStore 统计每个 id 的查询次数；gates 可阻塞指定 id
type fakeProfileStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	fail   map[string]error
	gates  map[string]chan struct{}
	calls  map[string]int
	called chan string
}

func newFakeProfileStore(users ...*model.User) *fakeProfileStore {
	s := &fakeProfileStore{
		users: make(map[string]*model.User),
		fail:  make(map[string]error),
		gates: make(map[string]chan struct{}),
		calls: make(map[string]int),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeProfileStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	s.calls[id]++
	gate := s.gates[id]
	called := s.called
	s.mu.Unlock()

	if called != nil {
		called <- id
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[id]; err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeProfileStore) callsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *fakeProfileStore) gate(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := make(chan struct{})
	s.gates[id] = g
	return g
}

func user(id string) *model.User {
	return &model.User{ID: id, Username: "name-" + id, ProfileImage: "https://img/" + id}
}

// fakeConversationSource 由测试直接推送事件
type fakeConversationSource struct {
	mu       sync.Mutex
	records  []*model.Conversation
	events   chan repository.ConversationEvent
	stopped  chan struct{}
	stopOnce sync.Once
}

func newFakeConversationSource() *fakeConversationSource {
	return &fakeConversationSource{
		events:  make(chan repository.ConversationEvent),
		stopped: make(chan struct{}),
	}
}

func (s *fakeConversationSource) ListByParticipant(_ context.Context, _ string) ([]*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, nil
}

func (s *fakeConversationSource) Subscribe(ctx context.Context, _ string) (<-chan repository.ConversationEvent, func()) {
	out := make(chan repository.ConversationEvent)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-s.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { s.stopOnce.Do(func() { close(s.stopped) }) }
}

func conversation(id, a, b string, updated time.Time, msgs ...model.Message) *model.Conversation {
	return &model.Conversation{ID: id, ParticipantA: a, ParticipantB: b, Messages: msgs, CreatedAt: updated, UpdatedAt: updated}
}

func msg(sender string, read bool, ts time.Time, text string) model.Message {
	return model.Message{ID: fmt.Sprintf("%s-%d", sender, ts.UnixNano()), SenderID: sender, Read: read, Timestamp: ts, Text: text}
}
