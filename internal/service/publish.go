package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/journeys/internal/model"
	"github.com/d60-Lab/journeys/internal/repository"
)

// JourneyInput 表单提交的动态内容
type JourneyInput struct {
	Title    string   `json:"title" binding:"required,max=200"`
	Content  string   `json:"content" binding:"required"`
	ImageURL *string  `json:"image_url" binding:"omitempty,url"`
	Tags     []string `json:"tags" binding:"max=10,dive,max=32"`
}

// ProfileInput 用户资料
type ProfileInput struct {
	Username     string `json:"username" binding:"required,max=64"`
	ProfileImage string `json:"profile_image" binding:"omitempty,url"`
}

// Publisher 负责写入：发布动态、发送私信、标记已读（读模型只通过变更流感知）
type Publisher struct {
	journeys      repository.JourneyRepository
	conversations repository.ConversationRepository
	users         repository.UserRepository
	now           func() time.Time
}

func NewPublisher(journeys repository.JourneyRepository, conversations repository.ConversationRepository, users repository.UserRepository) *Publisher {
	return &Publisher{journeys: journeys, conversations: conversations, users: users, now: time.Now}
}

// SaveProfile 写入资料；已缓存该资料的会话在结束前仍看到旧值
func (p *Publisher) SaveProfile(ctx context.Context, userID string, in ProfileInput) (*model.User, error) {
	now := p.now()
	u := &model.User{
		ID:           userID,
		Username:     strings.TrimSpace(in.Username),
		ProfileImage: in.ProfileImage,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.users.Upsert(ctx, u); err != nil {
		return nil, wrapCtx(err)
	}
	return u, nil
}

// PublishJourney 落地一条动态，返回带 ID 的记录
func (p *Publisher) PublishJourney(ctx context.Context, authorID string, in JourneyInput) (*model.Journey, error) {
	now := p.now()
	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	j := &model.Journey{
		ID:        uuid.New().String(),
		UserID:    authorID,
		Title:     in.Title,
		Content:   in.Content,
		ImageURL:  in.ImageURL,
		Tags:      tags,
		Score:     now.UnixNano(),
		CreatedAt: now,
	}
	if err := p.journeys.Create(ctx, j); err != nil {
		return nil, wrapCtx(err)
	}
	return j, nil
}

// OpenConversation 获取或创建两人会话
func (p *Publisher) OpenConversation(ctx context.Context, userID, otherID string) (*model.Conversation, error) {
	c, err := p.conversations.FindOrCreatePair(ctx, userID, otherID)
	if err != nil {
		if errors.Is(err, repository.ErrSelfConversation) {
			return nil, err
		}
		return nil, wrapCtx(err)
	}
	return c, nil
}

func (p *Publisher) SendMessage(ctx context.Context, conversationID, senderID, text string) (*model.Message, error) {
	m, err := p.conversations.AppendMessage(ctx, conversationID, senderID, text)
	if err != nil {
		return nil, wrapCtx(err)
	}
	return m, nil
}

func (p *Publisher) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	n, err := p.conversations.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, wrapCtx(err)
	}
	return n, nil
}
