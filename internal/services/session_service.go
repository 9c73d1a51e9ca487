package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoointerview/internal/metrics"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/providers/avatar"
	"github.com/yoockh/yoointerview/internal/store"
	"github.com/yoockh/yoointerview/internal/utils"
)

// JobSource reads job metadata from the job/approval backend.
type JobSource interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
}

// Archiver receives every session that reached a terminal state. result is
// nil for cancelled sessions.
type Archiver interface {
	Archive(ctx context.Context, s *models.Session, result *models.Result) error
}

// FeedbackWriter rewrites the feedback sentence of a result from the
// session's transcripts.
type FeedbackWriter interface {
	Feedback(ctx context.Context, s *models.Session, r *models.Result) (string, error)
}

const feedbackTimeout = 10 * time.Second

type CreateSessionInput struct {
	UserID     string      `json:"user_id" validate:"required"`
	JobID      string      `json:"job_id"`
	Job        *models.Job `json:"-"`
	Difficulty string      `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Language   string      `json:"language" validate:"omitempty,min=2,max=10"`
	Persona    string      `json:"persona"`
}

var validate = validator.New()

func (in CreateSessionInput) Validate() error {
	return validate.Struct(in)
}

type SessionConfig struct {
	Language          string
	Persona           string
	JobQuestions      int
	PracticeQuestions int
	JobBudget         time.Duration
	PracticeBudget    time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Language:          "en",
		Persona:           avatar.DefaultPersona,
		JobQuestions:      10,
		PracticeQuestions: 3,
		JobBudget:         900 * time.Second,
		PracticeBudget:    180 * time.Second,
	}
}

type SessionService interface {
	Create(ctx context.Context, in CreateSessionInput) (*models.Session, error)
	Start(ctx context.Context, sessionID string) (*models.Session, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// RecordResponse stores the one response of the current question.
	RecordResponse(ctx context.Context, sessionID string, r models.Response) (*models.Session, error)
	// Advance moves past the current question once it has a response.
	Advance(ctx context.Context, sessionID string) (*models.Session, error)

	Complete(ctx context.Context, sessionID string, responses []models.Response) (*models.Result, error)
	Cancel(ctx context.Context, sessionID string) (*models.Session, error)

	Result(ctx context.Context, sessionID string) (*models.Result, error)
	ListResults(ctx context.Context, userID string, limit int) ([]models.Result, error)
}

type sessionService struct {
	sessions store.SessionStore
	results  store.ResultStore
	pool     QuestionPoolService
	media    MediaService
	agg      ResultAggregator
	jobs     JobSource
	archiver Archiver
	coach    FeedbackWriter
	cfg      SessionConfig
	log      *logrus.Logger
	now      func() time.Time

	locks sync.Map // session id -> *sync.Mutex
}

type SessionDeps struct {
	Sessions   store.SessionStore
	Results    store.ResultStore
	Pool       QuestionPoolService
	Media      MediaService
	Aggregator ResultAggregator
	Jobs       JobSource // optional
	Archiver   Archiver       // optional
	Coach      FeedbackWriter // optional
}

func NewSessionService(d SessionDeps, cfg SessionConfig, log *logrus.Logger) SessionService {
	def := DefaultSessionConfig()
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.Persona == "" {
		cfg.Persona = def.Persona
	}
	if cfg.JobQuestions <= 0 {
		cfg.JobQuestions = def.JobQuestions
	}
	if cfg.PracticeQuestions <= 0 {
		cfg.PracticeQuestions = def.PracticeQuestions
	}
	if cfg.JobBudget <= 0 {
		cfg.JobBudget = def.JobBudget
	}
	if cfg.PracticeBudget <= 0 {
		cfg.PracticeBudget = def.PracticeBudget
	}
	return &sessionService{
		sessions: d.Sessions,
		results:  d.Results,
		pool:     d.Pool,
		media:    d.Media,
		agg:      d.Aggregator,
		jobs:     d.Jobs,
		archiver: d.Archiver,
		coach:    d.Coach,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

func (s *sessionService) Create(ctx context.Context, in CreateSessionInput) (*models.Session, error) {
	const op = "SessionService.Create"

	if err := in.Validate(); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid session request", err)
	}
	difficulty, _ := models.ParseDifficulty(in.Difficulty)

	job := in.Job
	if job == nil && in.JobID != "" {
		if s.jobs == nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, "job lookup is not configured", nil)
		}
		j, err := s.jobs.GetJob(ctx, in.JobID)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return nil, utils.E(utils.CodeNotFound, op, "job not found", err)
			}
			return nil, utils.E(utils.CodeUnavailable, op, "failed to load job", err)
		}
		job = j
	}

	language := in.Language
	if language == "" {
		language = s.cfg.Language
	}
	persona := in.Persona
	if persona == "" {
		persona = s.cfg.Persona
	}
	persona = avatar.NormalizePersona(persona)

	now := s.now().UTC()
	sess := &models.Session{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		Language:      language,
		Status:        models.StatusReady,
		Responses:     []models.Response{},
		CreatedAt:     now,
		StartTime:     now,
		AvatarPersona: persona,
	}

	var questions []models.Question
	if job != nil {
		qs, err := s.pool.Draw(ctx, job, difficulty, s.cfg.JobQuestions)
		if err != nil {
			return nil, err
		}
		questions = qs
		sess.Kind = models.KindJob
		sess.Job = job
		sess.Difficulty = difficulty
		sess.TotalDurationBudgetSeconds = int(s.cfg.JobBudget / time.Second)
	} else {
		qs, err := SelectQuestions(PracticeQuestions(), nil, s.cfg.PracticeQuestions)
		if err != nil {
			return nil, err
		}
		questions = qs
		sess.Kind = models.KindPractice
		sess.TotalDurationBudgetSeconds = int(s.cfg.PracticeBudget / time.Second)
	}

	sess.Questions = s.media.Prepare(ctx, questions, persona, language)

	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to save session", err)
	}

	metrics.Sessions.WithLabelValues(string(sess.Kind), "created").Inc()
	s.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"kind":       sess.Kind,
		"questions":  len(sess.Questions),
	}).Info("interview session created")
	return sess, nil
}

func (s *sessionService) Start(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "SessionService.Start"

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusInProgress {
		return sess, nil
	}
	if !sess.Status.CanTransitionTo(models.StatusInProgress) {
		return nil, invalidTransition(op, sess.Status, models.StatusInProgress)
	}

	sess.Status = models.StatusInProgress
	sess.StartTime = s.now().UTC()
	if err := s.save(ctx, op, sess); err != nil {
		return nil, err
	}

	metrics.Sessions.WithLabelValues(string(sess.Kind), "started").Inc()
	s.log.WithField("session_id", sess.ID).Info("interview session started")
	return sess, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.load(ctx, "SessionService.Get", sessionID)
}

func (s *sessionService) RecordResponse(ctx context.Context, sessionID string, r models.Response) (*models.Session, error) {
	const op = "SessionService.RecordResponse"

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.StatusInProgress {
		return nil, utils.E(utils.CodeConflict, op, "session is "+string(sess.Status), utils.ErrInvalidStateTransition)
	}
	q, ok := sess.CurrentQuestion()
	if !ok {
		return nil, utils.E(utils.CodeConflict, op, "no question left to answer", nil)
	}
	switch {
	case len(sess.Responses) > sess.CurrentIndex:
		return nil, utils.E(utils.CodeConflict, op, "question already has a response", nil)
	case len(sess.Responses) < sess.CurrentIndex:
		return nil, utils.E(utils.CodeConflict, op, "earlier questions have no response", nil)
	}
	if r.QuestionID != "" && r.QuestionID != q.ID {
		return nil, utils.E(utils.CodeConflict, op, "response does not match the current question", nil)
	}

	r.QuestionID = q.ID
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	sess.Responses = append(sess.Responses, r)
	if err := s.save(ctx, op, sess); err != nil {
		return nil, err
	}

	metrics.Responses.WithLabelValues(string(r.Source)).Inc()
	return sess, nil
}

func (s *sessionService) Advance(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "SessionService.Advance"

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.StatusInProgress {
		return nil, utils.E(utils.CodeConflict, op, "session is "+string(sess.Status), utils.ErrInvalidStateTransition)
	}
	if sess.CurrentIndex >= len(sess.Questions) {
		return nil, utils.E(utils.CodeConflict, op, "already past the last question", nil)
	}
	if len(sess.Responses) <= sess.CurrentIndex {
		return nil, utils.E(utils.CodeConflict, op, "current question has no response", nil)
	}

	sess.CurrentIndex++
	if err := s.save(ctx, op, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *sessionService) Complete(ctx context.Context, sessionID string, responses []models.Response) (*models.Result, error) {
	const op = "SessionService.Complete"

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.CanTransitionTo(models.StatusCompleted) {
		return nil, invalidTransition(op, sess.Status, models.StatusCompleted)
	}

	now := s.now().UTC()
	sess.Responses = normalizeResponses(sess, responses, now)
	sess.Status = models.StatusCompleted
	sess.EndedAt = &now
	if err := s.save(ctx, op, sess); err != nil {
		return nil, err
	}

	result := s.agg.Aggregate(sess, sess.Responses)
	s.coachFeedback(ctx, sess, result)
	if err := s.results.SaveResult(ctx, result); err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to save result", err)
	}
	s.archive(ctx, sess, result)

	metrics.Sessions.WithLabelValues(string(sess.Kind), "completed").Inc()
	s.log.WithFields(logrus.Fields{
		"session_id":    sess.ID,
		"overall_score": result.OverallScore,
		"answered":      result.AnsweredQuestions,
	}).Info("interview session completed")
	return result, nil
}

// coachFeedback keeps the templated feedback when the writer fails.
func (s *sessionService) coachFeedback(ctx context.Context, sess *models.Session, result *models.Result) {
	if s.coach == nil || result.AnsweredQuestions == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, feedbackTimeout)
	defer cancel()

	text, err := s.coach.Feedback(ctx, sess, result)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sess.ID).Warn("feedback writer failed, keeping template")
		return
	}
	if text != "" {
		result.Feedback = text
	}
}

func (s *sessionService) Cancel(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "SessionService.Cancel"

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusCancelled {
		return sess, nil
	}
	if !sess.Status.CanTransitionTo(models.StatusCancelled) {
		return nil, invalidTransition(op, sess.Status, models.StatusCancelled)
	}

	now := s.now().UTC()
	sess.Status = models.StatusCancelled
	sess.EndedAt = &now
	if err := s.save(ctx, op, sess); err != nil {
		return nil, err
	}
	s.archive(ctx, sess, nil)

	metrics.Sessions.WithLabelValues(string(sess.Kind), "cancelled").Inc()
	s.log.WithField("session_id", sess.ID).Info("interview session cancelled")
	return sess, nil
}

func (s *sessionService) Result(ctx context.Context, sessionID string) (*models.Result, error) {
	const op = "SessionService.Result"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	r, err := s.results.LoadResult(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "result not found", err)
		}
		return nil, utils.E(utils.CodeUnavailable, op, "failed to load result", err)
	}
	return r, nil
}

func (s *sessionService) ListResults(ctx context.Context, userID string, limit int) ([]models.Result, error) {
	const op = "SessionService.ListResults"

	if limit <= 0 || limit > store.MaxResultIndex {
		limit = store.MaxResultIndex
	}
	out, err := s.results.ListResults(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to list results", err)
	}
	return out, nil
}

func (s *sessionService) load(ctx context.Context, op, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	sess, err := s.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", utils.ErrSessionNotFound)
		}
		return nil, utils.E(utils.CodeUnavailable, op, "failed to load session", err)
	}
	return sess, nil
}

func (s *sessionService) save(ctx context.Context, op string, sess *models.Session) error {
	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to save session", err)
	}
	return nil
}

func (s *sessionService) archive(ctx context.Context, sess *models.Session, result *models.Result) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(ctx, sess, result); err != nil {
		s.log.WithError(err).WithField("session_id", sess.ID).Warn("archive session failed")
	}
}

func (s *sessionService) lock(sessionID string) func() {
	v, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func invalidTransition(op string, from, to models.SessionStatus) error {
	return utils.E(utils.CodeConflict, op, "cannot move session from "+string(from)+" to "+string(to), utils.ErrInvalidStateTransition)
}

// normalizeResponses returns exactly one response per question, in question
// order. Recorded responses win over supplied ones; a question with neither
// gets an empty skipped response.
func normalizeResponses(sess *models.Session, supplied []models.Response, now time.Time) []models.Response {
	byID := make(map[string]models.Response, len(sess.Responses)+len(supplied))
	for _, r := range supplied {
		if _, dup := byID[r.QuestionID]; !dup {
			byID[r.QuestionID] = r
		}
	}
	for _, r := range sess.Responses {
		byID[r.QuestionID] = r
	}

	out := make([]models.Response, len(sess.Questions))
	for i, q := range sess.Questions {
		r, ok := byID[q.ID]
		if !ok {
			r = models.Response{QuestionID: q.ID, Source: models.SourceSkipped, Timestamp: now}
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		out[i] = r
	}
	return out
}
