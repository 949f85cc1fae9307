package service

import (
	"sync"
	"time"
)

// Session 一个登录用户的读模型；资料缓存在动态流与收件箱之间共享
type Session struct {
	UserID   string
	Enricher *ProfileEnricher
	Feed     *FeedAssembler
	Inbox    *InboxReconciler
}

// SessionDeps wires the stores and tuning shared by every session.
type SessionDeps struct {
	Entries       EntryStore
	Profiles      ProfileStore
	Conversations ConversationSource
	SharedCache   ProfileCache
	PageSize      int
	FetchTimeout  time.Duration
	LookupTimeout time.Duration
}

// Sessions keeps one Session per user until End is called.
type Sessions struct {
	deps SessionDeps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions(deps SessionDeps) *Sessions {
	return &Sessions{deps: deps, sessions: make(map[string]*Session)}
}

func (s *Sessions) Get(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}

	opts := []EnricherOption{WithLookupTimeout(s.deps.LookupTimeout)}
	if s.deps.SharedCache != nil {
		opts = append(opts, WithSharedCache(s.deps.SharedCache))
	}
	enricher := NewProfileEnricher(s.deps.Profiles, opts...)
	sess := &Session{
		UserID:   userID,
		Enricher: enricher,
		Feed: NewFeedAssembler(userID, s.deps.Entries, enricher,
			WithPageSize(s.deps.PageSize),
			WithFetchTimeout(s.deps.FetchTimeout),
		),
		Inbox: NewInboxReconciler(s.deps.Conversations, enricher),
	}
	s.sessions[userID] = sess
	return sess
}

// End discards the user's session, including its profile cache.
func (s *Sessions) End(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
