package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/journeys/internal/model"
	"github.com/d60-Lab/journeys/internal/repository"
	"github.com/d60-Lab/journeys/pkg/logger"
	"github.com/d60-Lab/journeys/pkg/metrics"
)

const EmptyConversationHint = "Start a conversation"

// ConversationSummary 收件箱中的一行；OtherUser/UnreadCount/LastMessage 均为派生字段
type ConversationSummary struct {
	ID           string          `json:"id"`
	Participants []string        `json:"participants"`
	Messages     []model.Message `json:"messages"`
	LastMessage  *model.Message  `json:"last_message"`
	OtherUser    Profile         `json:"other_user"`
	UnreadCount  int             `json:"unread_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Preview 最后一条消息或占位提示
func (s ConversationSummary) Preview() string {
	if s.LastMessage == nil {
		return EmptyConversationHint
	}
	return s.LastMessage.Text
}

// InboxSnapshot is one fully reconciled inbox. Err is set only on the final
// snapshot of a stream, meaning the subscription is gone.
type InboxSnapshot struct {
	Seq           uint64                `json:"seq"`
	Conversations []ConversationSummary `json:"conversations"`
	TotalUnread   int                   `json:"total_unread"`
	Err           error                 `json:"-"`
}

// ConversationSource 会话存储能力（列表 + 变更订阅）
type ConversationSource interface {
	ListByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error)
	Subscribe(ctx context.Context, userID string) (<-chan repository.ConversationEvent, func())
}

// InboxReconciler projects raw conversation records into the sorted,
// unread-annotated inbox and republishes it on every store change.
type InboxReconciler struct {
	source   ConversationSource
	enricher *ProfileEnricher
}

func NewInboxReconciler(source ConversationSource, enricher *ProfileEnricher) *InboxReconciler {
	return &InboxReconciler{source: source, enricher: enricher}
}

func otherParticipant(c *model.Conversation, currentUser string) string {
	for _, p := range c.Participants() {
		if p != currentUser {
			return p
		}
	}
	return ""
}

// Project is a full recomputation from records. It fails only when ctx ends;
// profile failures degrade the affected rows to the fallback profile.
func (r *InboxReconciler) Project(ctx context.Context, currentUser string, records []*model.Conversation) ([]ConversationSummary, error) {
	kept := make([]*model.Conversation, 0, len(records))
	others := make([]string, 0, len(records))
	for _, c := range records {
		if c == nil {
			continue
		}
		other := otherParticipant(c, currentUser)
		if other == "" {
			continue
		}
		kept = append(kept, c)
		others = append(others, other)
	}

	profiles, err := r.enricher.ResolveMany(ctx, others)
	if err != nil {
		return nil, err
	}

	out := make([]ConversationSummary, 0, len(kept))
	for i, c := range kept {
		msgs := append([]model.Message(nil), c.Messages...)
		if msgs == nil {
			msgs = []model.Message{}
		}
		s := ConversationSummary{
			ID:           c.ID,
			Participants: c.Participants(),
			Messages:     msgs,
			OtherUser:    profiles[others[i]],
			UnreadCount:  UnreadCount(msgs, currentUser),
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		}
		if n := len(msgs); n > 0 {
			last := msgs[n-1]
			s.LastMessage = &last
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Snapshot reconciles the current store state once.
func (r *InboxReconciler) Snapshot(ctx context.Context, currentUser string) (InboxSnapshot, error) {
	records, err := r.source.ListByParticipant(ctx, currentUser)
	if err != nil {
		return InboxSnapshot{}, wrapCtx(err)
	}
	convs, err := r.Project(ctx, currentUser, records)
	if err != nil {
		return InboxSnapshot{}, err
	}
	return InboxSnapshot{Seq: 1, Conversations: convs, TotalUnread: TotalUnread(convs)}, nil
}

type passResult struct {
	gen   uint64
	convs []ConversationSummary
	err   error
}

// Watch subscribes to the user's conversations. Every upstream event starts a
// fresh pass; a pass still running when a newer event arrives is cancelled
// and its output dropped; profile lookups it started keep running and serve
// the next pass. The channel holds at most the latest snapshot. A
// store error yields one snapshot with Err set, then the channel closes.
// The returned func cancels everything; nothing is emitted afterwards.
func (r *InboxReconciler) Watch(ctx context.Context, currentUser string) (<-chan InboxSnapshot, func()) {
	ctx, cancel := context.WithCancel(ctx)
	events, stop := r.source.Subscribe(ctx, currentUser)
	out := make(chan InboxSnapshot, 1)
	go func() {
		metrics.InboxStreams.Inc()
		defer metrics.InboxStreams.Dec()
		defer close(out)
		defer stop()
		r.watchLoop(ctx, currentUser, events, out)
	}()
	return out, cancel
}

func (r *InboxReconciler) watchLoop(ctx context.Context, currentUser string, events <-chan repository.ConversationEvent, out chan InboxSnapshot) {
	results := make(chan passResult)
	var (
		gen        uint64
		seq        uint64
		passCancel context.CancelFunc
	)
	defer func() {
		if passCancel != nil {
			passCancel()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if passCancel != nil {
				passCancel()
				passCancel = nil
				metrics.ReconcilePasses.WithLabelValues("discarded").Inc()
			}
			if ev.Err != nil {
				logger.Error("inbox subscription terminated", zap.String("user", currentUser), zap.Error(ev.Err))
				publishLatest(out, InboxSnapshot{Seq: seq + 1, Err: fmt.Errorf("%w: %w", ErrSubscriptionClosed, wrapCtx(ev.Err))})
				return
			}
			gen++
			var pctx context.Context
			pctx, passCancel = context.WithCancel(ctx)
			go r.runPass(pctx, gen, currentUser, ev.Records, results)
		case res := <-results:
			if res.gen != gen {
				continue
			}
			passCancel()
			passCancel = nil
			if res.err != nil {
				if ctx.Err() != nil || errors.Is(res.err, ErrCancelled) {
					continue
				}
				logger.Warn("inbox pass failed", zap.String("user", currentUser), zap.Error(res.err))
				continue
			}
			if ctx.Err() != nil {
				return
			}
			seq++
			metrics.ReconcilePasses.WithLabelValues("emitted").Inc()
			publishLatest(out, InboxSnapshot{Seq: seq, Conversations: res.convs, TotalUnread: TotalUnread(res.convs)})
		}
	}
}

func (r *InboxReconciler) runPass(ctx context.Context, gen uint64, currentUser string, records []*model.Conversation, results chan<- passResult) {
	convs, err := r.Project(ctx, currentUser, records)
	select {
	case results <- passResult{gen: gen, convs: convs, err: err}:
	case <-ctx.Done():
	}
}

// publishLatest replaces an unread snapshot instead of blocking; out has
// capacity 1 and this goroutine is its only sender.
func publishLatest(out chan InboxSnapshot, snap InboxSnapshot) {
	select {
	case out <- snap:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	out <- snap
}
