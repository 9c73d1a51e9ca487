package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ResultRepo interface {
	Upsert(ctx context.Context, rec *models.ResultRecord) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.ResultRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.ResultRecord, error)
}

type resultRepo struct {
	db *gorm.DB
}

func NewResultRepo(db *gorm.DB) ResultRepo {
	return &resultRepo{db: db}
}

func (r *resultRepo) Upsert(ctx context.Context, rec *models.ResultRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
}

func (r *resultRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.ResultRecord, error) {
	var row models.ResultRecord
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *resultRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.ResultRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.ResultRecord
	q := r.db.WithContext(ctx)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Order("completed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
