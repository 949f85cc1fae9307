package service

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrTransient          = errors.New("store unavailable")
	ErrCancelled          = errors.New("cancelled")
	ErrTimeout            = errors.New("timed out")
	ErrInvalidCursor      = errors.New("cursor does not belong to this filter")
	ErrLoadInFlight       = errors.New("a page load is already in flight")
	ErrNotOwner           = errors.New("entry belongs to another user")
	ErrInvalidTab         = errors.New("unknown feed tab")
	ErrSubscriptionClosed = errors.New("inbox subscription closed")
)

// Kind 错误分类
type Kind int

const (
	KindTransientIO Kind = iota
	KindNotFound
	KindCancelled
	KindTimeout
	KindInvalidCursor
	KindConflict
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindInvalidCursor:
		return "invalid_cursor"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "transient_io"
	}
}

// Retryable 仅超时与瞬时 IO 错误可以由调用方重试
func (k Kind) Retryable() bool { return k == KindTimeout || k == KindTransientIO }

// Classify folds any error returned by the core or the store into a Kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidCursor):
		return KindInvalidCursor
	case errors.Is(err, ErrLoadInFlight), errors.Is(err, ErrNotOwner):
		return KindConflict
	case errors.Is(err, ErrInvalidTab):
		return KindInvalidInput
	default:
		return KindTransientIO
	}
}

// wrapCtx 把 context 错误映射到 ErrCancelled/ErrTimeout，其余标为瞬时错误
func wrapCtx(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return errors.Join(ErrCancelled, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Join(ErrNotFound, err)
	default:
		return errors.Join(ErrTransient, err)
	}
}
