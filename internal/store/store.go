package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
)

type SessionStore interface {
	SaveSession(ctx context.Context, s *models.Session) error
	LoadSession(ctx context.Context, id string) (*models.Session, error)
}

type HistoryStore interface {
	// LoadHistory returns an empty history for a job never seen before.
	LoadHistory(ctx context.Context, jobID string) (*models.UsedQuestionHistory, error)
	SaveHistory(ctx context.Context, h *models.UsedQuestionHistory) error
}

type ResultStore interface {
	SaveResult(ctx context.Context, r *models.Result) error
	LoadResult(ctx context.Context, sessionID string) (*models.Result, error)
	// ListResults returns newest first. An empty userID lists the global index.
	ListResults(ctx context.Context, userID string, limit int) ([]models.Result, error)
}

// KV keeps sessions, question history and results as JSON documents in a
// cache.Cache under the interview:* keys.
type KV struct {
	c          cache.Cache
	sessionTTL time.Duration

	// serialises read-modify-write of the result indexes
	idxMu sync.Mutex
}

func NewKV(c cache.Cache, sessionTTL time.Duration) *KV {
	return &KV{c: c, sessionTTL: sessionTTL}
}

func (s *KV) SaveSession(ctx context.Context, sess *models.Session) error {
	return s.c.SetJSON(ctx, SessionKey(sess.ID), sess, s.sessionTTL)
}

func (s *KV) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	hit, err := s.c.GetJSON(ctx, SessionKey(id), &sess)
	if err != nil {
		return nil, err
	}
	if !hit {
		return nil, utils.ErrNotFound
	}
	return &sess, nil
}

func (s *KV) LoadHistory(ctx context.Context, jobID string) (*models.UsedQuestionHistory, error) {
	h := &models.UsedQuestionHistory{JobID: jobID}
	if _, err := s.c.GetJSON(ctx, HistoryKey(jobID), h); err != nil {
		return nil, err
	}
	h.JobID = jobID
	return h, nil
}

func (s *KV) SaveHistory(ctx context.Context, h *models.UsedQuestionHistory) error {
	return s.c.SetJSON(ctx, HistoryKey(h.JobID), h, 0)
}

func (s *KV) SaveResult(ctx context.Context, r *models.Result) error {
	if err := s.c.SetJSON(ctx, ResultKey(r.SessionID), r, 0); err != nil {
		return err
	}

	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if r.UserID != "" {
		if err := s.prepend(ctx, UserResultsKey(r.UserID), r.SessionID); err != nil {
			return err
		}
	}
	return s.prepend(ctx, globalResultsKey, r.SessionID)
}

func (s *KV) LoadResult(ctx context.Context, sessionID string) (*models.Result, error) {
	var r models.Result
	hit, err := s.c.GetJSON(ctx, ResultKey(sessionID), &r)
	if err != nil {
		return nil, err
	}
	if !hit {
		return nil, utils.ErrNotFound
	}
	return &r, nil
}

func (s *KV) ListResults(ctx context.Context, userID string, limit int) ([]models.Result, error) {
	key := globalResultsKey
	if userID != "" {
		key = UserResultsKey(userID)
	}
	var ids []string
	if _, err := s.c.GetJSON(ctx, key, &ids); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}

	out := make([]models.Result, 0, limit)
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		r, err := s.LoadResult(ctx, id)
		if errors.Is(err, utils.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// prepend puts id at the head of the index at key, dropping duplicates and
// anything past MaxResultIndex.
func (s *KV) prepend(ctx context.Context, key, id string) error {
	var ids []string
	if _, err := s.c.GetJSON(ctx, key, &ids); err != nil {
		return err
	}
	next := make([]string, 0, len(ids)+1)
	next = append(next, id)
	for _, v := range ids {
		if v != id {
			next = append(next, v)
		}
	}
	if len(next) > MaxResultIndex {
		next = next[:MaxResultIndex]
	}
	return s.c.SetJSON(ctx, key, next, 0)
}
