package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/store"
	"github.com/yoockh/yoointerview/internal/utils"
)

// statusLog records every snapshot's status.
type statusLog struct {
	*store.KV
	mu       sync.Mutex
	statuses map[string][]models.SessionStatus
}

func (s *statusLog) SaveSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	s.statuses[sess.ID] = append(s.statuses[sess.ID], sess.Status)
	s.mu.Unlock()
	return s.KV.SaveSession(ctx, sess)
}

type fakeJobs map[string]*models.Job

func (f fakeJobs) GetJob(_ context.Context, id string) (*models.Job, error) {
	if j, ok := f[id]; ok {
		return j, nil
	}
	return nil, utils.ErrNotFound
}

type archived struct {
	session *models.Session
	result  *models.Result
}

type fakeArchiver struct {
	mu  sync.Mutex
	got []archived
}

func (f *fakeArchiver) Archive(_ context.Context, s *models.Session, r *models.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, archived{s.Clone(), r})
	return nil
}

type sessionFixture struct {
	svc      SessionService
	store    *statusLog
	archiver *fakeArchiver
	gen      *fakeGenerator
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	kv := memKV()
	st := &statusLog{KV: kv, statuses: map[string][]models.SessionStatus{}}
	gen := &fakeGenerator{}
	arch := &fakeArchiver{}
	log := quietLogger()

	svc := NewSessionService(SessionDeps{
		Sessions:   st,
		Results:    kv,
		Pool:       NewQuestionPoolService(kv, nil, log),
		Media:      NewMediaService(gen, MediaOptions{RequestTimeout: time.Second}, log),
		Aggregator: NewResultAggregator(rand.NewSource(7)),
		Jobs:       fakeJobs{"job-1": testJob},
		Archiver:   arch,
	}, SessionConfig{}, log)

	return &sessionFixture{svc: svc, store: st, archiver: arch, gen: gen}
}

func TestSessionService_CreateJobSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	s, err := f.svc.Create(ctx, CreateSessionInput{UserID: "u1", JobID: "job-1", Difficulty: "hard", Persona: "iranian_man"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusReady, s.Status)
	assert.Equal(t, models.KindJob, s.Kind)
	assert.Equal(t, 900, s.TotalDurationBudgetSeconds)
	assert.Equal(t, models.DifficultyHard, s.Difficulty)
	assert.Equal(t, "iranian_man", s.AvatarPersona)
	require.Len(t, s.Questions, 10)
	assert.Equal(t, models.CategoryIntroduction, s.Questions[0].Category)
	for _, q := range s.Questions {
		assert.True(t, q.HasMedia())
	}
	assert.Len(t, f.gen.requests, 10)

	got, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Questions, got.Questions)
}

func TestSessionService_CreatePracticeSession(t *testing.T) {
	f := newSessionFixture(t)

	s, err := f.svc.Create(context.Background(), CreateSessionInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, models.KindPractice, s.Kind)
	assert.Equal(t, 180, s.TotalDurationBudgetSeconds)
	assert.Len(t, s.Questions, 3)
	assert.Equal(t, "general_1", s.Questions[0].ID)
	assert.Equal(t, "black_man", s.AvatarPersona)
}

func TestSessionService_CreateValidation(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateSessionInput{})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = f.svc.Create(ctx, CreateSessionInput{UserID: "u1", Difficulty: "brutal"})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = f.svc.Create(ctx, CreateSessionInput{UserID: "u1", JobID: "nope"})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestSessionService_LifecycleErrors(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "missing")
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
	assert.ErrorIs(t, err, utils.ErrSessionNotFound)

	s, err := f.svc.Create(ctx, CreateSessionInput{UserID: "u1"})
	require.NoError(t, err)

	// complete on ready is rejected
	_, err = f.svc.Complete(ctx, s.ID, nil)
	assert.ErrorIs(t, err, utils.ErrInvalidStateTransition)

	_, err = f.svc.RecordResponse(ctx, s.ID, models.Response{Transcript: "early"})
	assert.ErrorIs(t, err, utils.ErrInvalidStateTransition)

	started, err := f.svc.Start(ctx, s.ID)
	require.NoError(t, err)
	again, err := f.svc.Start(ctx, s.ID)
	require.NoError(t, err, "start is idempotent")
	assert.Equal(t, started.StartTime, again.StartTime)

	_, err = f.svc.Advance(ctx, s.ID)
	assert.True(t, utils.IsCode(err, utils.CodeConflict), "advance needs a response")

	_, err = f.svc.RecordResponse(ctx, s.ID, models.Response{QuestionID: "general_2"})
	assert.True(t, utils.IsCode(err, utils.CodeConflict), "wrong question")

	_, err = f.svc.RecordResponse(ctx, s.ID, models.Response{Transcript: "hello"})
	require.NoError(t, err)
	_, err = f.svc.RecordResponse(ctx, s.ID, models.Response{Transcript: "twice"})
	assert.True(t, utils.IsCode(err, utils.CodeConflict), "one response per question")

	_, err = f.svc.Complete(ctx, s.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, s.ID)
	assert.ErrorIs(t, err, utils.ErrInvalidStateTransition)
	_, err = f.svc.Complete(ctx, s.ID, nil)
	assert.ErrorIs(t, err, utils.ErrInvalidStateTransition)
	_, err = f.svc.Cancel(ctx, s.ID)
	assert.ErrorIs(t, err, utils.ErrInvalidStateTransition)
}

func TestSessionService_FullRunCompletenessAndMonotonicStatus(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	s, err := f.svc.Create(ctx, CreateSessionInput{UserID: "u1", JobID: "job-1"})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, s.ID)
	require.NoError(t, err)

	// answer the first 4, then stop
	for i := 0; i < 4; i++ {
		_, err := f.svc.RecordResponse(ctx, s.ID, models.Response{Transcript: "answer", DurationMS: 1000, Confidence: 0.9, Source: models.SourceLive})
		require.NoError(t, err)
		cur, err := f.svc.Advance(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, cur.CurrentIndex)
	}

	// a supplied response for question 6 fills that slot
	supplied := []models.Response{
		{QuestionID: s.Questions[0].ID, Transcript: "ignored, recorded wins"},
		{QuestionID: s.Questions[5].ID, Transcript: "late answer", Source: models.SourceTranscription},
	}
	res, err := f.svc.Complete(ctx, s.ID, supplied)
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalQuestions)
	assert.Equal(t, 5, res.AnsweredQuestions)

	done, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.Len(t, done.Responses, len(done.Questions))
	for i, r := range done.Responses {
		assert.Equal(t, done.Questions[i].ID, r.QuestionID)
	}
	assert.Equal(t, "answer", done.Responses[0].Transcript)
	assert.Equal(t, "late answer", done.Responses[5].Transcript)
	assert.Equal(t, models.SourceSkipped, done.Responses[9].Source)

	stored, err := f.svc.Result(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, res.OverallScore, stored.OverallScore)

	list, err := f.svc.ListResults(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	rank := map[models.SessionStatus]int{
		models.StatusReady: 0, models.StatusInProgress: 1,
		models.StatusCompleted: 2, models.StatusCancelled: 2,
	}
	seq := f.store.statuses[s.ID]
	require.NotEmpty(t, seq)
	for i := 1; i < len(seq); i++ {
		assert.GreaterOrEqual(t, rank[seq[i]], rank[seq[i-1]], "status went backwards: %v", seq)
	}

	require.Len(t, f.archiver.got, 1)
	assert.NotNil(t, f.archiver.got[0].result)
}

func TestSessionService_Cancel(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	s, err := f.svc.Create(ctx, CreateSessionInput{UserID: "u1"})
	require.NoError(t, err)

	c, err := f.svc.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, c.Status)
	assert.NotNil(t, c.EndedAt)

	_, err = f.svc.Cancel(ctx, s.ID)
	require.NoError(t, err, "cancel is idempotent")
	require.Len(t, f.archiver.got, 1)
	assert.Nil(t, f.archiver.got[0].result)

	_, err = f.svc.Start(ctx, s.ID)
	assert.ErrorIs(t, err, utils.ErrInvalidStateTransition)

	_, err = f.svc.Result(ctx, s.ID)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

type failingSessions struct{ store.SessionStore }

func (failingSessions) SaveSession(context.Context, *models.Session) error {
	return errors.New("redis down")
}

func TestSessionService_SnapshotFailureSurfaces(t *testing.T) {
	kv := memKV()
	log := quietLogger()
	svc := NewSessionService(SessionDeps{
		Sessions:   failingSessions{kv},
		Results:    kv,
		Pool:       NewQuestionPoolService(kv, nil, log),
		Media:      NewMediaService(nil, MediaOptions{}, log),
		Aggregator: NewResultAggregator(nil),
	}, SessionConfig{}, log)

	_, err := svc.Create(context.Background(), CreateSessionInput{UserID: "u1"})
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
}

type fakeCoach struct {
	text string
	err  error
	seen int
}

func (c *fakeCoach) Feedback(_ context.Context, s *models.Session, r *models.Result) (string, error) {
	c.seen = r.AnsweredQuestions
	return c.text, c.err
}

func TestSessionService_CoachFeedback(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		coach   *fakeCoach
		answer  bool
		want    string
		invoked bool
	}{
		{"rewritten", &fakeCoach{text: "Nice structure, add metrics."}, true, "Nice structure, add metrics.", true},
		{"writer error keeps template", &fakeCoach{err: errors.New("quota")}, true, "", true},
		{"no answers skips writer", &fakeCoach{text: "unused"}, false, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kv := memKV()
			log := quietLogger()
			svc := NewSessionService(SessionDeps{
				Sessions:   kv,
				Results:    kv,
				Pool:       NewQuestionPoolService(kv, nil, log),
				Media:      NewMediaService(&fakeGenerator{}, MediaOptions{RequestTimeout: time.Second}, log),
				Aggregator: NewResultAggregator(rand.NewSource(7)),
				Coach:      tc.coach,
			}, SessionConfig{}, log)

			s, err := svc.Create(ctx, CreateSessionInput{UserID: "u1"})
			require.NoError(t, err)
			_, err = svc.Start(ctx, s.ID)
			require.NoError(t, err)
			if tc.answer {
				_, err = svc.RecordResponse(ctx, s.ID, models.Response{Transcript: "hello", Source: models.SourceLive})
				require.NoError(t, err)
			}

			res, err := svc.Complete(ctx, s.ID, nil)
			require.NoError(t, err)
			if tc.want != "" {
				assert.Equal(t, tc.want, res.Feedback)
			} else {
				assert.Equal(t, feedbackFor(res.OverallScore), res.Feedback)
			}
			if tc.invoked {
				assert.Equal(t, 1, tc.coach.seen)
			} else {
				assert.Zero(t, tc.coach.seen)
			}
		})
	}
}

func TestSessionService_ResumesMigratedSession(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	kv := store.NewKV(c, 0)
	log := quietLogger()
	svc := NewSessionService(SessionDeps{
		Sessions:   kv,
		Results:    kv,
		Pool:       NewQuestionPoolService(kv, nil, log),
		Media:      NewMediaService(&fakeGenerator{}, MediaOptions{RequestTimeout: time.Second}, log),
		Aggregator: NewResultAggregator(rand.NewSource(7)),
	}, SessionConfig{}, log)

	c.SetRaw("quick_interview_old1", []byte(`{
		"id":"old1","userId":"u1","currentQuestionIndex":1,
		"startTime":"`+time.Now().UTC().Format(time.RFC3339Nano)+`","totalDuration":180,
		"status":"in_progress","isTestInterview":true,
		"questions":[
			{"id":"general_1","text":"Tell me about yourself.","expectedDuration":60,"category":"Introduction","type":"behavioral"},
			{"id":"general_2","text":"Your strengths?","expectedDuration":60,"category":"Strengths","type":"behavioral"},
			{"id":"general_3","text":"Five years from now?","expectedDuration":60,"category":"Career-Goals","type":"behavioral"}
		]}`))
	_, err := store.MigrateLegacy(ctx, c, kv, nil)
	require.NoError(t, err)

	sess, err := svc.RecordResponse(ctx, "old1", models.Response{Transcript: "I am good at debugging", Source: models.SourceLive})
	require.NoError(t, err)
	require.Len(t, sess.Responses, 2)
	assert.Equal(t, "general_2", sess.Responses[1].QuestionID)

	sess, err = svc.Advance(ctx, "old1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.CurrentIndex)

	res, err := svc.Complete(ctx, "old1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalQuestions)
	assert.Equal(t, 1, res.AnsweredQuestions)
}

func TestSessionService_RecordResponseOutOfStep(t *testing.T) {
	ctx := context.Background()
	kv := memKV()
	log := quietLogger()
	svc := NewSessionService(SessionDeps{
		Sessions:   kv,
		Results:    kv,
		Pool:       NewQuestionPoolService(kv, nil, log),
		Media:      NewMediaService(&fakeGenerator{}, MediaOptions{RequestTimeout: time.Second}, log),
		Aggregator: NewResultAggregator(rand.NewSource(7)),
	}, SessionConfig{}, log)

	s, err := svc.Create(ctx, CreateSessionInput{UserID: "u1"})
	require.NoError(t, err)
	s, err = svc.Start(ctx, s.ID)
	require.NoError(t, err)

	// a snapshot whose index ran ahead of its responses
	s.CurrentIndex = 1
	require.NoError(t, kv.SaveSession(ctx, s))

	_, err = svc.RecordResponse(ctx, s.ID, models.Response{Transcript: "hello"})
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	got, err := svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Responses)
}
