package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/providers/avatar"
	"github.com/yoockh/yoointerview/internal/providers/stt"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/store"
	"github.com/yoockh/yoointerview/internal/utils"
)

const waitFor = 2 * time.Second

type clipGenerator struct{ n atomic.Int32 }

func (g *clipGenerator) Generate(_ context.Context, req avatar.Request) (avatar.Response, error) {
	id := g.n.Add(1)
	return avatar.Response{Success: true, Handle: fmt.Sprintf("clip-%d", id), URL: "https://clips.test/" + req.Emotion}, nil
}

type fakePresenter struct {
	mu        sync.Mutex
	questions []string
	notices   []string
	err       error
}

func (p *fakePresenter) PresentQuestion(_ context.Context, q models.Question) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, q.ID)
	return p.err
}

func (p *fakePresenter) PresentNotice(_ context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, text)
	return nil
}

func (p *fakePresenter) snapshot() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.questions...), append([]string(nil), p.notices...)
}

type fakeCapture struct {
	audio  []byte
	closes atomic.Int32
}

func (c *fakeCapture) Level() float64        { return 0.4 }
func (c *fakeCapture) Stop() ([]byte, error) { return c.audio, nil }
func (c *fakeCapture) Close() error          { c.closes.Add(1); return nil }

type fakeMic struct {
	mu       sync.Mutex
	audio    []byte
	err      error
	captures []*fakeCapture
}

func (m *fakeMic) Open(context.Context) (Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c := &fakeCapture{audio: m.audio}
	m.captures = append(m.captures, c)
	return c, nil
}

func (m *fakeMic) opened() []*fakeCapture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeCapture(nil), m.captures...)
}

type fakeSTT struct {
	result stt.Result
	err    error
	calls  atomic.Int32
	last   atomic.Value // stt.Request
}

func (f *fakeSTT) Transcribe(_ context.Context, req stt.Request) (stt.Result, error) {
	f.calls.Add(1)
	f.last.Store(req)
	return f.result, f.err
}

func (f *fakeSTT) Close() error { return nil }

type fakeUploader struct{ names sync.Map }

func (u *fakeUploader) Upload(_ context.Context, name, _ string, r io.Reader) (string, error) {
	b, _ := io.ReadAll(r)
	u.names.Store(name, len(b))
	return "gs://audio/" + name, nil
}

type fixture struct {
	kv        *store.KV
	svc       services.SessionService
	presenter *fakePresenter
	mic       *fakeMic
	sink      *ChanSink
	log       *logrus.Logger
}

func newFixture(t *testing.T, withMedia bool) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	kv := store.NewKV(cache.NewMemoryCache(), 0)
	var gen avatar.Generator
	if withMedia {
		gen = &clipGenerator{}
	}
	svc := services.NewSessionService(services.SessionDeps{
		Sessions:   kv,
		Results:    kv,
		Pool:       services.NewQuestionPoolService(kv, nil, log),
		Media:      services.NewMediaService(gen, services.MediaOptions{}, log),
		Aggregator: services.NewResultAggregator(rand.NewSource(3)),
	}, services.SessionConfig{}, log)

	return &fixture{
		kv:        kv,
		svc:       svc,
		presenter: &fakePresenter{},
		mic:       &fakeMic{audio: []byte("opus-bytes")},
		sink:      NewChanSink(512),
		log:       log,
	}
}

func (f *fixture) practice(t *testing.T) *models.Session {
	t.Helper()
	s, err := f.svc.Create(context.Background(), services.CreateSessionInput{UserID: "u1"})
	require.NoError(t, err)
	return s
}

func (f *fixture) controller(id string, deps Deps, opts Options) *Controller {
	deps.Sessions = f.svc
	if deps.Presenter == nil {
		deps.Presenter = f.presenter
	}
	if deps.Mic == nil {
		deps.Mic = f.mic
	}
	deps.Sink = f.sink
	deps.Log = f.log
	return New(id, deps, opts)
}

type outcome struct {
	res *models.Result
	err error
}

func runAsync(ctx context.Context, c *Controller) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		res, err := c.Run(ctx)
		ch <- outcome{res, err}
	}()
	return ch
}

func awaitState(t *testing.T, c *Controller, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == s }, waitFor, 2*time.Millisecond, "want state %s, have %s", s, c.State())
}

func awaitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(waitFor):
		t.Fatal("controller did not finish")
		return outcome{}
	}
}

// answer runs one full turn for the question currently being presented.
func answer(t *testing.T, c *Controller, text string) {
	t.Helper()
	ctx := context.Background()
	awaitState(t, c, StatePresenting)
	require.NoError(t, c.Signal(Event{Kind: PlaybackEnded}))
	require.NoError(t, c.StartRecording(ctx))
	if text != "" {
		require.NoError(t, c.Signal(Event{Kind: RecognitionResult, Text: text, Final: true}))
	}
	require.NoError(t, c.StopRecording(ctx))
	awaitState(t, c, StateAwaitingAdvance)
	require.NoError(t, c.Signal(Event{Kind: PlaybackEnded}))
}

func TestController_HappyPath(t *testing.T) {
	f := newFixture(t, true)
	s := f.practice(t)
	c := f.controller(s.ID, Deps{}, Options{})
	done := runAsync(context.Background(), c)

	answer(t, c, "I am a backend engineer")
	answer(t, c, "I learn quickly")
	answer(t, c, "Lead a platform team")

	o := awaitOutcome(t, done)
	require.NoError(t, o.err)
	require.NotNil(t, o.res)
	assert.Equal(t, 3, o.res.TotalQuestions)
	assert.Equal(t, 3, o.res.AnsweredQuestions)
	assert.Equal(t, StateCompleted, c.State())

	got, err := f.svc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.Len(t, got.Responses, 3)
	for i, r := range got.Responses {
		assert.Equal(t, s.Questions[i].ID, r.QuestionID)
		assert.Equal(t, models.SourceLive, r.Source)
		assert.InDelta(t, 0.9, r.Confidence, 1e-9)
	}
	assert.Equal(t, "I learn quickly", got.Responses[1].Transcript)

	questions, notices := f.presenter.snapshot()
	assert.Equal(t, []string{"general_1", "general_2", "general_3"}, questions)
	assert.Equal(t, []string{NoticeNext, NoticeNext, NoticeFinal}, notices)

	for _, cp := range f.mic.opened() {
		assert.EqualValues(t, 1, cp.closes.Load())
	}
}

func TestController_UpdatesReachSink(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	c := f.controller(s.ID, Deps{}, Options{VolumeInterval: 5 * time.Millisecond})
	done := runAsync(context.Background(), c)

	awaitState(t, c, StatePresenting)
	require.NoError(t, c.StartRecording(context.Background()))
	require.NoError(t, c.Signal(Event{Kind: RecognitionResult, Text: "hello"}))
	require.NoError(t, c.Signal(Event{Kind: RecognitionResult, Text: "hello there", Final: true}))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.Cancel(context.Background()))
	awaitOutcome(t, done)

	var sawVolume, sawTranscript bool
	for len(f.sink.C) > 0 {
		u := <-f.sink.C
		assert.Equal(t, s.ID, u.SessionID)
		switch u.Type {
		case UpdateVolume:
			sawVolume = true
			assert.InDelta(t, 0.4, u.Volume, 1e-9)
		case UpdateTranscript:
			sawTranscript = true
		}
	}
	assert.True(t, sawVolume)
	assert.True(t, sawTranscript)
}

func TestController_TranscriptionFallsBackToPlaceholder(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	transcriber := &fakeSTT{err: errors.New("quota exceeded")}
	c := f.controller(s.ID, Deps{STT: transcriber}, Options{})
	done := runAsync(context.Background(), c)

	answer(t, c, "uh")

	awaitState(t, c, StatePresenting)
	require.NoError(t, c.Cancel(context.Background()))
	awaitOutcome(t, done)

	got, err := f.svc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.Responses)
	r := got.Responses[0]
	assert.Equal(t, TranscriptionPlaceholder, r.Transcript)
	assert.Equal(t, models.SourcePlaceholder, r.Source)
	assert.InDelta(t, 0.5, r.Confidence, 1e-9)
	assert.EqualValues(t, 1, transcriber.calls.Load())
}

func TestController_TranscribesAndUploads(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	transcriber := &fakeSTT{result: stt.Result{Transcript: " I enjoy distributed systems ", Confidence: 0.87}}
	up := &fakeUploader{}
	c := f.controller(s.ID, Deps{STT: transcriber, Uploader: up}, Options{})
	done := runAsync(context.Background(), c)

	answer(t, c, "")
	awaitState(t, c, StatePresenting)
	require.NoError(t, c.Cancel(context.Background()))
	awaitOutcome(t, done)

	got, err := f.svc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	r := got.Responses[0]
	assert.Equal(t, "I enjoy distributed systems", r.Transcript)
	assert.Equal(t, models.SourceTranscription, r.Source)
	assert.InDelta(t, 0.87, r.Confidence, 1e-9)
	assert.Equal(t, "gs://audio/interviews/"+s.ID+"/general_1.webm", r.AudioRef)

	req := transcriber.last.Load().(stt.Request)
	assert.True(t, req.EnhancedModel)
	assert.Equal(t, []byte("opus-bytes"), req.Audio)
	assert.Empty(t, req.URI)
	assert.False(t, req.Long())
}

func TestController_LongAnswerTranscribedFromUpload(t *testing.T) {
	f := newFixture(t, false)
	f.mic.audio = make([]byte, stt.MaxInlineBytes+1)
	s := f.practice(t)
	transcriber := &fakeSTT{result: stt.Result{Transcript: "a very long story", Confidence: 0.8}}
	up := &fakeUploader{}
	c := f.controller(s.ID, Deps{STT: transcriber, Uploader: up}, Options{})
	done := runAsync(context.Background(), c)

	answer(t, c, "")
	awaitState(t, c, StatePresenting)
	require.NoError(t, c.Cancel(context.Background()))
	awaitOutcome(t, done)

	ref := "gs://audio/interviews/" + s.ID + "/general_1.webm"
	req := transcriber.last.Load().(stt.Request)
	assert.True(t, req.Long())
	assert.Equal(t, ref, req.URI)

	size, ok := up.names.Load("interviews/" + s.ID + "/general_1.webm")
	require.True(t, ok)
	assert.Equal(t, stt.MaxInlineBytes+1, size)

	got, err := f.svc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "a very long story", got.Responses[0].Transcript)
	assert.Equal(t, ref, got.Responses[0].AudioRef)
}

func TestController_EmptyAudio(t *testing.T) {
	f := newFixture(t, false)
	f.mic.audio = nil
	s := f.practice(t)
	transcriber := &fakeSTT{}
	c := f.controller(s.ID, Deps{STT: transcriber}, Options{})
	done := runAsync(context.Background(), c)

	answer(t, c, "")
	awaitState(t, c, StatePresenting)
	require.NoError(t, c.Cancel(context.Background()))
	awaitOutcome(t, done)

	got, err := f.svc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Responses[0].Transcript)
	assert.Equal(t, models.SourceEmpty, got.Responses[0].Source)
	assert.Zero(t, transcriber.calls.Load())
}

func TestController_RecordingWaitsForPlayback(t *testing.T) {
	f := newFixture(t, true)
	s := f.practice(t)
	c := f.controller(s.ID, Deps{}, Options{})
	done := runAsync(context.Background(), c)
	ctx := context.Background()

	awaitState(t, c, StatePresenting)
	err := c.StartRecording(ctx)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
	assert.Empty(t, f.mic.opened())

	require.NoError(t, c.Signal(Event{Kind: PlaybackStarted}))
	require.NoError(t, c.StartRecording(ctx))
	assert.Equal(t, StateRecording, c.State())

	err = c.StartRecording(ctx)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	require.NoError(t, c.Cancel(ctx))
	awaitOutcome(t, done)
}

func TestController_PresentationFailureFallsBackToText(t *testing.T) {
	f := newFixture(t, true)
	f.presenter.err = errors.New("player crashed")
	s := f.practice(t)
	c := f.controller(s.ID, Deps{}, Options{})
	done := runAsync(context.Background(), c)

	awaitState(t, c, StatePresenting)
	require.NoError(t, c.StartRecording(context.Background()))
	require.NoError(t, c.Cancel(context.Background()))
	awaitOutcome(t, done)
}

func TestController_AcquisitionError(t *testing.T) {
	f := newFixture(t, false)
	f.mic.err = errors.New("permission denied")
	s := f.practice(t)
	c := f.controller(s.ID, Deps{}, Options{})
	done := runAsync(context.Background(), c)

	awaitState(t, c, StatePresenting)
	err := c.StartRecording(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrAcquisition)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
	assert.Equal(t, StatePresenting, c.State())

	require.NoError(t, c.Cancel(context.Background()))
	awaitOutcome(t, done)
}

func TestController_FallbackAdvance(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	c := f.controller(s.ID, Deps{}, Options{AdvanceFallback: 20 * time.Millisecond})
	done := runAsync(context.Background(), c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		awaitState(t, c, StatePresenting)
		require.NoError(t, c.StartRecording(ctx))
		require.NoError(t, c.Signal(Event{Kind: RecognitionResult, Text: "a complete answer", Final: true}))
		require.NoError(t, c.StopRecording(ctx))
		// no PlaybackEnded: the fallback timer advances
	}

	o := awaitOutcome(t, done)
	require.NoError(t, o.err)
	require.NotNil(t, o.res)
	assert.Equal(t, 3, o.res.AnsweredQuestions)
}

func TestController_CancelReleasesOnce(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	c := f.controller(s.ID, Deps{}, Options{})
	done := runAsync(context.Background(), c)
	ctx := context.Background()

	awaitState(t, c, StatePresenting)
	require.NoError(t, c.StartRecording(ctx))
	require.NoError(t, c.Cancel(ctx))

	o := awaitOutcome(t, done)
	require.NoError(t, o.err)
	assert.Nil(t, o.res)
	assert.Equal(t, StateCancelled, c.State())

	caps := f.mic.opened()
	require.Len(t, caps, 1)
	assert.EqualValues(t, 1, caps[0].closes.Load())

	got, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	assert.ErrorIs(t, c.Cancel(ctx), ErrStopped)
	assert.ErrorIs(t, c.Signal(Event{Kind: PlaybackEnded}), ErrStopped)
}

func TestController_BudgetExpiryTruncatesTurn(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	ctx := context.Background()

	started, err := f.svc.Start(ctx, s.ID)
	require.NoError(t, err)
	started.StartTime = time.Now().Add(-started.Budget() + 400*time.Millisecond)
	require.NoError(t, f.kv.SaveSession(ctx, started))

	c := f.controller(s.ID, Deps{}, Options{})
	done := runAsync(ctx, c)

	awaitState(t, c, StatePresenting)
	require.NoError(t, c.StartRecording(ctx))
	require.NoError(t, c.Signal(Event{Kind: RecognitionResult, Text: "I have worked on", Final: true}))

	o := awaitOutcome(t, done)
	require.NoError(t, o.err)
	require.NotNil(t, o.res)
	assert.Equal(t, 3, o.res.TotalQuestions)
	assert.Equal(t, 1, o.res.AnsweredQuestions)

	got, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.Len(t, got.Responses, 3)
	assert.Equal(t, models.SourceTruncated, got.Responses[0].Source)
	assert.Equal(t, "I have worked on", got.Responses[0].Transcript)
	assert.Equal(t, models.SourceSkipped, got.Responses[1].Source)
	assert.Equal(t, models.SourceSkipped, got.Responses[2].Source)

	caps := f.mic.opened()
	require.Len(t, caps, 1)
	assert.EqualValues(t, 1, caps[0].closes.Load())
}

func TestController_ExpiredBeforeRunCompletesImmediately(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	ctx := context.Background()

	started, err := f.svc.Start(ctx, s.ID)
	require.NoError(t, err)
	started.StartTime = time.Now().Add(-time.Hour)
	require.NoError(t, f.kv.SaveSession(ctx, started))

	res, err := f.controller(s.ID, Deps{}, Options{}).Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Zero(t, res.AnsweredQuestions)
}

func TestController_ResumesAfterAnsweredQuestion(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, s.ID)
	require.NoError(t, err)
	_, err = f.svc.RecordResponse(ctx, s.ID, models.Response{Transcript: "before the restart", Source: models.SourceLive})
	require.NoError(t, err)

	c := f.controller(s.ID, Deps{}, Options{})
	done := runAsync(ctx, c)
	awaitState(t, c, StatePresenting)

	got, err := f.svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentIndex)
	questions, _ := f.presenter.snapshot()
	assert.Equal(t, []string{"general_2"}, questions)

	require.NoError(t, c.Cancel(ctx))
	awaitOutcome(t, done)
}

func TestController_DetachKeepsSessionRunning(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	ctx, cancel := context.WithCancel(context.Background())
	c := f.controller(s.ID, Deps{}, Options{})
	done := runAsync(ctx, c)

	awaitState(t, c, StatePresenting)
	require.NoError(t, c.StartRecording(context.Background()))
	cancel()

	o := awaitOutcome(t, done)
	assert.ErrorIs(t, o.err, context.Canceled)

	got, err := f.svc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.EqualValues(t, 1, f.mic.opened()[0].closes.Load())
}

func TestController_RejectsTerminalSession(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	ctx := context.Background()
	_, err := f.svc.Cancel(ctx, s.ID)
	require.NoError(t, err)

	c := f.controller(s.ID, Deps{}, Options{})
	_, err = c.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrInvalidStateTransition)

	_, err = c.Run(ctx)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestController_QuestionCountdown(t *testing.T) {
	f := newFixture(t, false)
	s := f.practice(t)
	c := f.controller(s.ID, Deps{}, Options{VolumeInterval: 5 * time.Millisecond})
	done := runAsync(context.Background(), c)

	awaitState(t, c, StatePresenting)
	require.NoError(t, c.StartRecording(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Cancel(context.Background()))
	awaitOutcome(t, done)

	var presented, sawVolume bool
	for len(f.sink.C) > 0 {
		u := <-f.sink.C
		switch {
		case u.Type == UpdateState && u.Question != nil:
			presented = true
			assert.Equal(t, u.Question.ExpectedDurationSeconds, u.QuestionRemainingSeconds)
		case u.Type == UpdateVolume:
			sawVolume = true
			assert.Greater(t, u.QuestionRemainingSeconds, 0)
			assert.LessOrEqual(t, u.QuestionRemainingSeconds, 60)
		}
	}
	assert.True(t, presented)
	assert.True(t, sawVolume)
}

func TestQuestionRemaining(t *testing.T) {
	tests := []struct {
		name     string
		expected int
		elapsed  time.Duration
		want     int
	}{
		{"just presented", 60, 0, 60},
		{"rounds up", 60, 1500 * time.Millisecond, 59},
		{"exactly spent", 60, time.Minute, 0},
		{"overrun", 60, 2 * time.Minute, 0},
		{"no expectation", 0, time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, questionRemaining(tt.expected, tt.elapsed))
		})
	}
}
