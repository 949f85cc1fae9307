package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/journeys/internal/model"
)

// Keyset 上一页最后一条的排序键 (score, id)
type Keyset struct {
	Score int64
	ID    string
}

// JourneyQuery 键集分页查询；AuthorID 为空表示不过滤
type JourneyQuery struct {
	AuthorID string
	After    *Keyset
	Limit    int
}

type JourneyRepository interface {
	Create(ctx context.Context, j *model.Journey) error
	GetByID(ctx context.Context, id string) (*model.Journey, error)
	DeleteByID(ctx context.Context, id string) error
	Query(ctx context.Context, q JourneyQuery) ([]*model.Journey, error)
}

type journeyRepository struct{ db *gorm.DB }

func NewJourneyRepository(db *gorm.DB) JourneyRepository { return &journeyRepository{db: db} }

func (r *journeyRepository) Create(ctx context.Context, j *model.Journey) error {
	j.Normalize()
	return r.db.WithContext(ctx).Create(j).Error
}

func (r *journeyRepository) GetByID(ctx context.Context, id string) (*model.Journey, error) {
	var j model.Journey
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	j.Normalize()
	return &j, nil
}

// DeleteByID 删除不存在的记录返回 gorm.ErrRecordNotFound
func (r *journeyRepository) DeleteByID(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Journey{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Query 按 score DESC, id DESC 排序；After 之后严格小于该键
func (r *journeyRepository) Query(ctx context.Context, q JourneyQuery) ([]*model.Journey, error) {
	tx := r.db.WithContext(ctx).Model(&model.Journey{})
	if q.AuthorID != "" {
		tx = tx.Where("user_id = ?", q.AuthorID)
	}
	if q.After != nil {
		tx = tx.Where("(score < ? OR (score = ? AND id < ?))", q.After.Score, q.After.Score, q.After.ID)
	}
	var res []*model.Journey
	err := tx.Order("score DESC, id DESC").Limit(q.Limit).Find(&res).Error
	if err != nil {
		return nil, err
	}
	for _, j := range res {
		j.Normalize()
	}
	return res, nil
}
