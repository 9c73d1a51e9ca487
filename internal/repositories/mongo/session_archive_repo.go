package mongo

import (
	"context"
	"errors"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SessionArchiveRepository keeps the final snapshot of every finished
// interview session.
type SessionArchiveRepository interface {
	Upsert(ctx context.Context, s *models.Session) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.Session, error)
}

type sessionArchiveRepo struct {
	col *mongo.Collection
}

func NewSessionArchiveRepo(db *mongo.Database) SessionArchiveRepository {
	return &sessionArchiveRepo{col: db.Collection("interview_sessions")}
}

func (r *sessionArchiveRepo) Upsert(ctx context.Context, s *models.Session) error {
	_, err := r.col.ReplaceOne(ctx,
		bson.M{"session_id": s.ID},
		s,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *sessionArchiveRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionArchiveRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	cur, err := r.col.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
