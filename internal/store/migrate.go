package store

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/models"
)

// Keys written by the previous browser-side client.
const (
	legacySessionPrefix = "quick_interview_"
	legacyHistoryKey    = "used_interview_questions"
	legacyResultsKey    = "interview_results"
)

type legacyQuestion struct {
	ID               string              `json:"id"`
	Text             string              `json:"text"`
	ExpectedDuration int                 `json:"expectedDuration"`
	Type             models.QuestionType `json:"type"`
	Category         string              `json:"category"`
	QuestionNumber   int                 `json:"questionNumber"`
	TotalQuestions   int                 `json:"totalQuestions"`
	AvatarResponse   *struct {
		ID       string `json:"id"`
		VideoURL string `json:"videoUrl"`
	} `json:"avatarResponse,omitempty"`
}

type legacySession struct {
	ID                   string           `json:"id"`
	UserID               string           `json:"userId"`
	Questions            []legacyQuestion `json:"questions"`
	CurrentQuestionIndex int              `json:"currentQuestionIndex"`
	StartTime            string           `json:"startTime"`
	TotalDuration        int              `json:"totalDuration"`
	Status               string           `json:"status"`
	Avatar               string           `json:"avatar"`
	IsTestInterview      bool             `json:"isTestInterview"`
	Difficulty           string           `json:"difficulty"`
	JobContext           *struct {
		ID      string `json:"id"`
		JobID   string `json:"jobId"`
		Title   string `json:"title"`
		Company string `json:"company"`
	} `json:"jobContext,omitempty"`
}

type legacyResult struct {
	SessionID       string         `json:"sessionId"`
	UserID          string         `json:"userId"`
	CompletedAt     string         `json:"completedAt"`
	OverallScore    float64        `json:"overallScore"`
	Scores          map[string]int `json:"scores"`
	Strengths       []string       `json:"strengths"`
	Improvements    []string       `json:"improvements"`
	Feedback        string         `json:"feedback"`
	TotalQuestions  int            `json:"totalQuestions"`
	ResponseQuality string         `json:"responseQuality"`
}

type MigrationReport struct {
	Sessions  int `json:"sessions"`
	Histories int `json:"histories"`
	Results   int `json:"results"`
}

// MigrateLegacy moves data stored under the old client keys into the
// interview:* keyspace and deletes the old keys. Canonical data always wins
// over legacy data. Running it twice is a no-op.
func MigrateLegacy(ctx context.Context, c cache.Cache, kv *KV, log *logrus.Logger) (MigrationReport, error) {
	var rep MigrationReport

	keys, err := c.Keys(ctx, legacySessionPrefix+"*")
	if err != nil {
		return rep, err
	}
	for _, key := range keys {
		// quick_interview_results_{user} shares the prefix; results arrive
		// through interview_results below.
		if strings.HasPrefix(key, legacySessionPrefix+"results_") {
			continue
		}
		var ls legacySession
		hit, err := c.GetJSON(ctx, key, &ls)
		if err != nil {
			return rep, err
		}
		if hit && ls.ID != "" {
			if _, err := kv.LoadSession(ctx, ls.ID); err != nil {
				if err := kv.SaveSession(ctx, ls.toSession()); err != nil {
					return rep, err
				}
				rep.Sessions++
			}
		}
		if err := c.Del(ctx, key); err != nil {
			return rep, err
		}
	}

	var used map[string][]string
	hit, err := c.GetJSON(ctx, legacyHistoryKey, &used)
	if err != nil {
		return rep, err
	}
	if hit {
		now := time.Now().UTC()
		for jobID, ids := range used {
			cur, err := kv.LoadHistory(ctx, jobID)
			if err != nil {
				return rep, err
			}
			// legacy ids are older than anything recorded since
			merged := &models.UsedQuestionHistory{JobID: jobID}
			merged.Record(now, ids...)
			merged.Record(now, cur.QuestionIDs...)
			if err := kv.SaveHistory(ctx, merged); err != nil {
				return rep, err
			}
			rep.Histories++
		}
		if err := c.Del(ctx, legacyHistoryKey); err != nil {
			return rep, err
		}
	}

	var results []legacyResult
	hit, err = c.GetJSON(ctx, legacyResultsKey, &results)
	if err != nil {
		return rep, err
	}
	if hit {
		// stored newest first; replay oldest first so the index keeps that order
		for i := len(results) - 1; i >= 0; i-- {
			lr := results[i]
			if lr.SessionID == "" {
				continue
			}
			if _, err := kv.LoadResult(ctx, lr.SessionID); err == nil {
				continue
			}
			if err := kv.SaveResult(ctx, lr.toResult()); err != nil {
				return rep, err
			}
			rep.Results++
		}
		if err := c.Del(ctx, legacyResultsKey); err != nil {
			return rep, err
		}
	}

	if log != nil && (rep.Sessions+rep.Histories+rep.Results) > 0 {
		log.WithFields(logrus.Fields{
			"sessions":  rep.Sessions,
			"histories": rep.Histories,
			"results":   rep.Results,
		}).Info("legacy interview data migrated")
	}
	return rep, nil
}

func (ls legacySession) toSession() *models.Session {
	s := &models.Session{
		ID:                         ls.ID,
		UserID:                     ls.UserID,
		Kind:                       models.KindJob,
		CurrentIndex:               ls.CurrentQuestionIndex,
		Status:                     models.SessionStatus(ls.Status),
		TotalDurationBudgetSeconds: ls.TotalDuration,
		AvatarPersona:              ls.Avatar,
		Language:                   "en",
		Responses:                  []models.Response{},
	}
	if ls.IsTestInterview {
		s.Kind = models.KindPractice
	}
	if d, ok := models.ParseDifficulty(ls.Difficulty); ok {
		s.Difficulty = d
	}
	if t, err := time.Parse(time.RFC3339Nano, ls.StartTime); err == nil {
		s.StartTime = t.UTC()
		s.CreatedAt = s.StartTime
	}
	switch s.Status {
	case models.StatusReady, models.StatusInProgress, models.StatusCompleted, models.StatusCancelled:
	default:
		s.Status = models.StatusCancelled
	}
	if jc := ls.JobContext; jc != nil {
		id := jc.ID
		if id == "" {
			id = jc.JobID
		}
		s.Job = &models.Job{ID: id, Title: jc.Title, Company: jc.Company}
	}
	for _, q := range ls.Questions {
		mq := models.Question{
			ID:                      q.ID,
			Text:                    q.Text,
			Category:                q.Category,
			Type:                    q.Type,
			ExpectedDurationSeconds: q.ExpectedDuration,
			QuestionNumber:          q.QuestionNumber,
			TotalQuestions:          q.TotalQuestions,
		}
		if ar := q.AvatarResponse; ar != nil && ar.ID != "" {
			mq.Media = &models.MediaReference{Handle: ar.ID, URL: ar.VideoURL, Persona: ls.Avatar}
		}
		s.Questions = append(s.Questions, mq)
	}
	if s.CurrentIndex > len(s.Questions) {
		s.CurrentIndex = len(s.Questions)
	}
	// legacy snapshots kept no answers; questions already passed count as skipped
	for i := 0; i < s.CurrentIndex; i++ {
		s.Responses = append(s.Responses, models.Response{
			QuestionID: s.Questions[i].ID,
			Source:     models.SourceSkipped,
			Timestamp:  s.StartTime,
		})
	}
	return s
}

func (lr legacyResult) toResult() *models.Result {
	r := &models.Result{
		SessionID:       lr.SessionID,
		UserID:          lr.UserID,
		OverallScore:    int(lr.OverallScore + 0.5),
		Strengths:       lr.Strengths,
		Improvements:    lr.Improvements,
		Feedback:        lr.Feedback,
		TotalQuestions:  lr.TotalQuestions,
		ResponseQuality: lr.ResponseQuality,
		Subscores: models.Subscores{
			Communication:      lr.Scores["communication"],
			Confidence:         lr.Scores["confidence"],
			Professionalism:    lr.Scores["professionalism"],
			TechnicalKnowledge: lr.Scores["technicalKnowledge"],
		},
	}
	if t, err := time.Parse(time.RFC3339Nano, lr.CompletedAt); err == nil {
		r.CompletedAt = t.UTC()
	}
	return r
}
