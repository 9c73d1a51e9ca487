package turn

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yoockh/yoointerview/internal/metrics"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/observability"
	"github.com/yoockh/yoointerview/internal/providers/stt"
	"github.com/yoockh/yoointerview/internal/storage"
	"github.com/yoockh/yoointerview/internal/utils"
)

const (
	NoticeNext  = "Thank you for your response. I'm analyzing your answer and preparing the next question."
	NoticeFinal = "Thank you for your final response. I'm now preparing your interview results."

	TranscriptionPlaceholder = "[Audio response recorded - transcription unavailable]"

	partialConfidence     = 0.9
	placeholderConfidence = 0.5
)

var ErrStopped = errors.New("turn controller is not running")

type Options struct {
	AdvanceFallback       time.Duration // default 8s
	VolumeInterval        time.Duration // default 100ms
	TranscribeTimeout     time.Duration // default 30s
	LongTranscribeTimeout time.Duration // default 3m, upload plus long-running recognition
	MinPartialChars       int           // default 5
}

func (o Options) withDefaults() Options {
	if o.AdvanceFallback <= 0 {
		o.AdvanceFallback = 8 * time.Second
	}
	if o.VolumeInterval <= 0 {
		o.VolumeInterval = 100 * time.Millisecond
	}
	if o.TranscribeTimeout <= 0 {
		o.TranscribeTimeout = 30 * time.Second
	}
	if o.LongTranscribeTimeout <= 0 {
		o.LongTranscribeTimeout = 3 * time.Minute
	}
	if o.MinPartialChars <= 0 {
		o.MinPartialChars = 5
	}
	return o
}

type Deps struct {
	Sessions  Lifecycle
	Presenter Presenter
	Mic       Microphone
	STT       stt.Provider     // optional; without it audio gets the placeholder
	Uploader  storage.Uploader // optional
	Sink      Sink             // optional
	Log       *logrus.Logger
}

type cmdKind int

const (
	cmdStartRecording cmdKind = iota
	cmdStopRecording
	cmdCancel
)

type command struct {
	kind  cmdKind
	reply chan error
}

// input carries either an event or a command. Both share one queue so a
// client's messages are handled in the order they were sent.
type input struct {
	ev  *Event
	cmd *command
}

type processed struct {
	turn     int
	response models.Response
}

// Controller drives one session turn by turn. All turn state is owned by
// the goroutine running Run; other goroutines talk to it through Signal and
// the command methods.
type Controller struct {
	id   string
	deps Deps
	opts Options
	log  *logrus.Entry

	inbox     chan input
	audioDone chan processed
	done      chan struct{}
	running   atomic.Bool

	mu    sync.RWMutex
	state State

	// owned by the Run goroutine
	ctx          context.Context
	sess         *models.Session
	acknowledged bool
	finalText    string
	interim      string
	capture      Capture
	recStart     time.Time
	questionAt   time.Time
	turnSeq      int
	volume       *time.Ticker
	fallback     *time.Timer
	deadline     *time.Timer
	cancelAudio  context.CancelFunc
	releaseOnce  sync.Once
}

func New(sessionID string, deps Deps, opts Options) *Controller {
	if deps.Log == nil {
		deps.Log = logrus.New()
	}
	return &Controller{
		id:        sessionID,
		deps:      deps,
		opts:      opts.withDefaults(),
		log:       deps.Log.WithField("session_id", sessionID),
		inbox:     make(chan input, 32),
		audioDone: make(chan processed, 1),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
}

func (c *Controller) SessionID() string { return c.id }

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) Signal(ev Event) error {
	if c.stopped() {
		return ErrStopped
	}
	select {
	case c.inbox <- input{ev: &ev}:
		return nil
	case <-c.done:
		return ErrStopped
	}
}

func (c *Controller) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Controller) StartRecording(ctx context.Context) error { return c.do(ctx, cmdStartRecording) }
func (c *Controller) StopRecording(ctx context.Context) error  { return c.do(ctx, cmdStopRecording) }
func (c *Controller) Cancel(ctx context.Context) error         { return c.do(ctx, cmdCancel) }

func (c *Controller) do(ctx context.Context, kind cmdKind) error {
	if c.stopped() {
		return ErrStopped
	}
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case c.inbox <- input{cmd: &cmd}:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until the session completes, is cancelled, or ctx ends. A
// completed session returns its Result; a cancelled one returns nil. When
// ctx ends first the session stays in_progress and can be resumed by a new
// controller.
func (c *Controller) Run(ctx context.Context) (*models.Result, error) {
	const op = "Controller.Run"

	if !c.running.CompareAndSwap(false, true) {
		return nil, utils.E(utils.CodeConflict, op, "controller already ran", nil)
	}
	defer close(c.done)
	defer c.release()

	metrics.ActiveTurns.Inc()
	defer metrics.ActiveTurns.Dec()

	c.ctx = ctx
	sess, err := c.deps.Sessions.Get(ctx, c.id)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case models.StatusReady:
		if sess, err = c.deps.Sessions.Start(ctx, c.id); err != nil {
			return nil, err
		}
	case models.StatusInProgress:
	default:
		return nil, utils.E(utils.CodeConflict, op, "session is "+string(sess.Status), utils.ErrInvalidStateTransition)
	}
	c.sess = sess

	// resuming after the current question was answered but not advanced
	if sess.CurrentIndex < len(sess.Questions) && len(sess.Responses) > sess.CurrentIndex {
		if c.sess, err = c.deps.Sessions.Advance(ctx, c.id); err != nil {
			return nil, err
		}
	}

	remaining := c.sess.Remaining(time.Now())
	if c.sess.CurrentIndex >= len(c.sess.Questions) || remaining <= 0 {
		return c.complete(false)
	}

	c.log.WithFields(logrus.Fields{
		"question_index": c.sess.CurrentIndex,
		"remaining_s":    int(remaining.Seconds()),
	}).Info("turn controller running")

	c.deadline = time.NewTimer(remaining)
	c.present()
	return c.loop()
}

func (c *Controller) loop() (*models.Result, error) {
	for {
		select {
		case <-c.ctx.Done():
			c.release()
			c.log.Info("turn controller detached")
			return nil, c.ctx.Err()

		case in := <-c.inbox:
			var (
				res  *models.Result
				done bool
				err  error
			)
			if in.cmd != nil {
				res, done, err = c.onCommand(*in.cmd)
			} else {
				res, done, err = c.onEvent(*in.ev)
			}
			if done {
				return res, err
			}

		case p := <-c.audioDone:
			if p.turn != c.turnSeq || c.state != StateProcessingAudio {
				continue
			}
			c.cancelAudio = nil
			c.finishTurn(p.response)

		case <-timerC(c.fallback):
			c.fallback = nil
			c.log.Debug("advance signal missing, fallback fired")
			if res, done, err := c.advance(); done {
				return res, err
			}

		case <-tickerC(c.volume):
			if c.capture != nil {
				c.emit(Update{Type: UpdateVolume, Volume: c.capture.Level()})
			}

		case <-timerC(c.deadline):
			c.deadline = nil
			c.log.Info("session time budget exhausted")
			return c.complete(true)
		}
	}
}

func (c *Controller) onEvent(ev Event) (*models.Result, bool, error) {
	switch ev.Kind {
	case PlaybackStarted:
		if c.state == StatePresenting && !c.acknowledged {
			c.acknowledged = true
			c.emitState()
		}
	case PlaybackEnded:
		switch c.state {
		case StatePresenting:
			if !c.acknowledged {
				c.acknowledged = true
				c.emitState()
			}
		case StateAwaitingAdvance:
			return c.advance()
		}
	case RecognitionResult:
		if c.state != StateRecording {
			return nil, false, nil
		}
		text := strings.TrimSpace(ev.Text)
		if ev.Final {
			c.finalText = joinText(c.finalText, text)
			c.interim = ""
		} else {
			c.interim = text
		}
		c.emit(Update{Type: UpdateTranscript, Transcript: c.partial()})
	}
	return nil, false, nil
}

func (c *Controller) onCommand(cmd command) (*models.Result, bool, error) {
	switch cmd.kind {
	case cmdStartRecording:
		err := c.startRecording()
		if err != nil {
			c.emitErr(err)
		}
		cmd.reply <- err
	case cmdStopRecording:
		cmd.reply <- c.stopRecording()
	case cmdCancel:
		err := c.cancel()
		cmd.reply <- err
		return nil, true, err
	}
	return nil, false, nil
}

func (c *Controller) present() {
	q := c.sess.Questions[c.sess.CurrentIndex]

	// text-only questions have nothing to wait for
	c.acknowledged = !q.HasMedia()
	c.finalText, c.interim = "", ""
	c.questionAt = time.Now()
	c.setState(StatePresenting)
	c.emit(Update{Type: UpdateState, Question: &q})

	if c.deps.Presenter == nil {
		c.acknowledged = true
		return
	}
	if err := c.deps.Presenter.PresentQuestion(c.ctx, q); err != nil {
		c.log.WithError(err).WithField("question_id", q.ID).Warn("presentation failed, continuing text-only")
		c.acknowledged = true
	}
}

func (c *Controller) startRecording() error {
	const op = "Controller.StartRecording"

	if c.state != StatePresenting {
		return utils.E(utils.CodeConflict, op, "cannot record while "+string(c.state), nil)
	}
	if !c.acknowledged {
		return utils.E(utils.CodeConflict, op, "question is still being presented", nil)
	}
	if c.deps.Mic == nil {
		return utils.E(utils.CodeUnavailable, op, "no microphone", utils.ErrAcquisition)
	}
	capture, err := c.deps.Mic.Open(c.ctx)
	if err != nil {
		return utils.E(utils.CodeUnavailable, op, err.Error(), utils.ErrAcquisition)
	}

	c.capture = capture
	c.recStart = time.Now()
	c.finalText, c.interim = "", ""
	c.volume = time.NewTicker(c.opts.VolumeInterval)
	c.setState(StateRecording)
	c.emitState()
	return nil
}

func (c *Controller) stopRecording() error {
	const op = "Controller.StopRecording"

	if c.state != StateRecording {
		return utils.E(utils.CodeConflict, op, "not recording", nil)
	}
	c.stopVolume()
	audio, err := c.capture.Stop()
	_ = c.capture.Close()
	c.capture = nil
	if err != nil {
		c.log.WithError(err).Warn("capture stop failed, treating as no audio")
		audio = nil
	}

	c.setState(StateProcessingAudio)
	c.emitState()
	c.process(audio, time.Since(c.recStart).Milliseconds())
	return nil
}

// process turns the captured audio into a response: a long enough partial
// transcript is used as is, no audio yields an empty response, anything
// else goes to transcription.
func (c *Controller) process(audio []byte, durationMS int64) {
	c.turnSeq++
	seq := c.turnSeq

	partial := c.partial()
	r := models.Response{DurationMS: durationMS}
	needSTT := false
	switch {
	case utf8.RuneCountInString(partial) >= c.opts.MinPartialChars:
		r.Transcript, r.Confidence, r.Source = partial, partialConfidence, models.SourceLive
	case len(audio) == 0:
		r.Source = models.SourceEmpty
	default:
		needSTT = true
	}

	if len(audio) == 0 || (!needSTT && c.deps.Uploader == nil) {
		c.finishTurn(r)
		return
	}

	req := stt.Request{
		Audio:         audio,
		Language:      stt.NormalizeLanguage(c.sess.Language),
		Duration:      time.Duration(durationMS) * time.Millisecond,
		EnhancedModel: true,
	}
	timeout := c.opts.TranscribeTimeout
	if needSTT && req.Long() {
		timeout = c.opts.LongTranscribeTimeout
	}
	actx, cancel := context.WithTimeout(c.ctx, timeout)
	c.cancelAudio = cancel
	q := c.sess.Questions[c.sess.CurrentIndex]

	go func() {
		defer cancel()
		out := c.resolveAudio(actx, q, req, r, needSTT)
		select {
		case c.audioDone <- processed{turn: seq, response: out}:
		case <-c.done:
		}
	}()
}

// resolveAudio runs off the loop goroutine and must not touch turn state.
func (c *Controller) resolveAudio(ctx context.Context, q models.Question, req stt.Request, r models.Response, needSTT bool) models.Response {
	const op = "Controller.resolveAudio"

	ctx, span := observability.Tracer().Start(ctx, op)
	defer span.End()

	upload := func() {
		ref, err := c.deps.Uploader.Upload(ctx, storage.AudioObjectName(c.id, q.ID), "audio/webm", bytes.NewReader(req.Audio))
		if err != nil {
			c.log.WithError(err).WithField("question_id", q.ID).Warn("audio upload failed")
			return
		}
		r.AudioRef = ref
	}

	var (
		res    stt.Result
		sttErr error
	)
	transcribe := func() {
		if c.deps.STT == nil {
			sttErr = errors.New("no transcription provider")
			return
		}
		res, sttErr = c.deps.STT.Transcribe(ctx, req)
	}

	switch {
	case needSTT && req.Long() && c.deps.Uploader != nil:
		// long audio is recognized from its stored copy
		upload()
		req.URI = r.AudioRef
		transcribe()
	default:
		var g errgroup.Group
		if c.deps.Uploader != nil {
			g.Go(func() error { upload(); return nil })
		}
		if needSTT {
			g.Go(func() error { transcribe(); return nil })
		}
		_ = g.Wait()
	}

	if !needSTT {
		return r
	}
	if sttErr != nil {
		c.log.WithError(utils.E(utils.CodeUnavailable, op, sttErr.Error(), utils.ErrTranscription)).
			WithField("question_id", q.ID).Warn("transcription failed, using placeholder")
		r.Transcript, r.Confidence, r.Source = TranscriptionPlaceholder, placeholderConfidence, models.SourcePlaceholder
		return r
	}
	r.Transcript = strings.TrimSpace(res.Transcript)
	r.Confidence = res.Confidence
	if r.Confidence == 0 {
		r.Confidence = stt.DefaultConfidence
	}
	r.Source = models.SourceTranscription
	return r
}

func (c *Controller) finishTurn(r models.Response) {
	q := c.sess.Questions[c.sess.CurrentIndex]
	r.QuestionID = q.ID
	r.Timestamp = time.Now().UTC()

	if sess, err := c.deps.Sessions.RecordResponse(c.ctx, c.id, r); err != nil {
		c.log.WithError(err).WithField("question_id", q.ID).Error("record response failed")
		c.emitErr(err)
	} else {
		c.sess = sess
	}

	notice := NoticeNext
	if c.sess.CurrentIndex == len(c.sess.Questions)-1 {
		notice = NoticeFinal
	}
	c.setState(StateAwaitingAdvance)
	c.emit(Update{Type: UpdateResponse, Response: &r, Notice: notice})

	c.fallback = time.NewTimer(c.opts.AdvanceFallback)
	if c.deps.Presenter != nil {
		if err := c.deps.Presenter.PresentNotice(c.ctx, notice); err != nil {
			c.log.WithError(err).Warn("notice presentation failed")
		}
	}
}

func (c *Controller) advance() (*models.Result, bool, error) {
	stopTimer(c.fallback)
	c.fallback = nil

	sess, err := c.deps.Sessions.Advance(c.ctx, c.id)
	if err != nil {
		c.emitErr(err)
		return nil, true, err
	}
	c.sess = sess
	if sess.CurrentIndex >= len(sess.Questions) {
		res, err := c.complete(false)
		return res, true, err
	}
	c.present()
	return nil, false, nil
}

// complete ends the session. With truncate set, a question that was being
// presented, recorded or processed gets whatever partial transcript exists.
func (c *Controller) complete(truncate bool) (*models.Result, error) {
	if truncate {
		c.truncateTurn()
	}
	c.release()

	res, err := c.deps.Sessions.Complete(c.ctx, c.id, nil)
	if err != nil {
		c.emitErr(err)
		return nil, err
	}
	c.setState(StateCompleted)
	c.emit(Update{Type: UpdateResult, Result: res})
	c.log.WithField("overall_score", res.OverallScore).Info("interview completed")
	return res, nil
}

func (c *Controller) truncateTurn() {
	switch c.state {
	case StatePresenting, StateRecording, StateProcessingAudio:
	default:
		return
	}
	if c.sess.CurrentIndex >= len(c.sess.Questions) || len(c.sess.Responses) > c.sess.CurrentIndex {
		return
	}

	r := models.Response{
		QuestionID: c.sess.Questions[c.sess.CurrentIndex].ID,
		Transcript: c.partial(),
		Source:     models.SourceTruncated,
		Timestamp:  time.Now().UTC(),
	}
	if r.Transcript != "" {
		r.Confidence = partialConfidence
	}
	if c.state != StatePresenting {
		r.DurationMS = time.Since(c.recStart).Milliseconds()
	}
	if _, err := c.deps.Sessions.RecordResponse(c.ctx, c.id, r); err != nil {
		c.log.WithError(err).Warn("record truncated response failed")
	}
}

func (c *Controller) cancel() error {
	c.release()
	_, err := c.deps.Sessions.Cancel(c.ctx, c.id)
	c.setState(StateCancelled)
	c.emitState()
	if err != nil {
		c.emitErr(err)
		return err
	}
	c.log.Info("interview cancelled")
	return nil
}

// release frees every turn resource. It runs once whichever of cancel,
// completion or detach gets there first.
func (c *Controller) release() {
	c.releaseOnce.Do(func() {
		c.stopVolume()
		if c.capture != nil {
			_ = c.capture.Close()
			c.capture = nil
		}
		stopTimer(c.fallback)
		c.fallback = nil
		stopTimer(c.deadline)
		c.deadline = nil
		if c.cancelAudio != nil {
			c.cancelAudio()
			c.cancelAudio = nil
		}
	})
}

func (c *Controller) stopVolume() {
	if c.volume != nil {
		c.volume.Stop()
		c.volume = nil
	}
}

func (c *Controller) partial() string {
	return joinText(c.finalText, c.interim)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) emitState() { c.emit(Update{Type: UpdateState}) }

func (c *Controller) emitErr(err error) {
	c.emit(Update{Type: UpdateError, Error: err.Error()})
}

func (c *Controller) emit(u Update) {
	if c.deps.Sink == nil {
		return
	}
	u.SessionID = c.id
	u.State = c.state
	if c.sess != nil {
		u.QuestionIndex = c.sess.CurrentIndex
		u.TotalQuestions = len(c.sess.Questions)
		u.RemainingSeconds = int(math.Ceil(c.sess.Remaining(time.Now()).Seconds()))
		if i := c.sess.CurrentIndex; i < len(c.sess.Questions) && !c.questionAt.IsZero() {
			u.QuestionRemainingSeconds = questionRemaining(c.sess.Questions[i].ExpectedDurationSeconds, time.Since(c.questionAt))
		}
	}
	c.deps.Sink.Publish(u)
}

// questionRemaining rounds up and never goes below zero.
func questionRemaining(expectedSeconds int, elapsed time.Duration) int {
	left := time.Duration(expectedSeconds)*time.Second - elapsed
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
