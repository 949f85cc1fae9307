package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/journeys/internal/model"
)

var ErrSelfConversation = errors.New("conversation needs two distinct participants")

type ConversationRepository interface {
	ListByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	FindOrCreatePair(ctx context.Context, a, b string) (*model.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, senderID, text string) (*model.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	Subscribe(ctx context.Context, userID string) (<-chan ConversationEvent, func())
}

type conversationRepository struct {
	db           *gorm.DB
	pollInterval time.Duration
	waker        Waker
}

// NewConversationRepository waker 可为 nil，此时仅轮询
func NewConversationRepository(db *gorm.DB, pollInterval time.Duration, waker Waker) ConversationRepository {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &conversationRepository{db: db, pollInterval: pollInterval, waker: waker}
}

func preloadMessages(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("timestamp ASC, id ASC")
	})
}

// ListByParticipant 返回包含该用户的会话，按 updated_at DESC
func (r *conversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error) {
	var res []*model.Conversation
	err := preloadMessages(r.db.WithContext(ctx)).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("updated_at DESC, id DESC").
		Find(&res).Error
	return res, err
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := preloadMessages(r.db.WithContext(ctx)).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindOrCreatePair 幂等：同一对用户只会有一条会话
func (r *conversationRepository) FindOrCreatePair(ctx context.Context, a, b string) (*model.Conversation, error) {
	if a == "" || b == "" || a == b {
		return nil, ErrSelfConversation
	}
	pa, pb := model.OrderPair(a, b)
	now := time.Now()
	c := &model.Conversation{ID: uuid.New().String(), ParticipantA: pa, ParticipantB: pb, CreatedAt: now, UpdatedAt: now}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c).Error; err != nil {
		return nil, err
	}
	var out model.Conversation
	err := preloadMessages(r.db.WithContext(ctx)).
		Where("participant_a = ? AND participant_b = ?", pa, pb).
		First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendMessage 在事务内写消息并刷新会话 updated_at
func (r *conversationRepository) AppendMessage(ctx context.Context, conversationID, senderID, text string) (*model.Message, error) {
	now := time.Now()
	msg := &model.Message{ID: uuid.New().String(), ConversationID: conversationID, SenderID: senderID, Text: text, Timestamp: now}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Conversation
		if err := tx.Where("id = ?", conversationID).First(&c).Error; err != nil {
			return err
		}
		if senderID != c.ParticipantA && senderID != c.ParticipantB {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).Where("id = ?", conversationID).Update("updated_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead 将对方发来的未读消息标记为已读，返回影响条数
// 非参与者视为会话不存在
func (r *conversationRepository) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Conversation
		if err := tx.Where("id = ?", conversationID).First(&c).Error; err != nil {
			return err
		}
		if readerID != c.ParticipantA && readerID != c.ParticipantB {
			return gorm.ErrRecordNotFound
		}
		res := tx.Model(&model.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND read = ?", conversationID, readerID, false).
			Update("read", true)
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}
