package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/d60-Lab/journeys/internal/model"
)

const defaultPollInterval = 2 * time.Second

// Waker delivers out-of-band change signals (e.g. postgres NOTIFY) so the
// subscription re-queries before the next poll tick.
type Waker interface {
	Wake(ctx context.Context) <-chan struct{}
}

// ConversationEvent is one full-result-set snapshot for a subscription. A
// non-nil Err is terminal: the channel is closed right after it.
type ConversationEvent struct {
	Records []*model.Conversation
	Err     error
}

// Subscribe emits the user's full conversation set whenever it changes. The
// first snapshot is sent immediately. Calling the returned func cancels the
// subscription and closes the channel.
func (r *conversationRepository) Subscribe(ctx context.Context, userID string) (<-chan ConversationEvent, func()) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan ConversationEvent, 1)
	go r.watchLoop(ctx, out, userID)
	return out, cancel
}

func (r *conversationRepository) watchLoop(ctx context.Context, out chan<- ConversationEvent, userID string) {
	defer close(out)

	var wake <-chan struct{}
	if r.waker != nil {
		wake = r.waker.Wake(ctx)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	lastSig := ""
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
		case <-timer.C:
		}

		records, err := r.ListByParticipant(ctx, userID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case out <- ConversationEvent{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		if sig := signature(records); first || sig != lastSig {
			first = false
			lastSig = sig
			select {
			case out <- ConversationEvent{Records: records}:
			case <-ctx.Done():
				return
			}
		}
		resetTimer(timer, r.pollInterval)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// signature 覆盖会话与消息的可见字段，任一变化都会改变结果
func signature(records []*model.Conversation) string {
	var b strings.Builder
	for _, c := range records {
		b.WriteString(c.ID)
		b.WriteByte('@')
		b.WriteString(strconv.FormatInt(c.UpdatedAt.UnixNano(), 10))
		for _, m := range c.Messages {
			b.WriteByte('|')
			b.WriteString(m.ID)
			if m.Read {
				b.WriteByte('r')
			}
		}
		b.WriteByte(';')
	}
	return b.String()
}
