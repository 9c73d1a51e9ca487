package services

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yoockh/yoointerview/internal/metrics"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/observability"
	"github.com/yoockh/yoointerview/internal/providers/avatar"
	"github.com/yoockh/yoointerview/internal/utils"
)

type MediaService interface {
	// Prepare attaches avatar media to every question it can. It waits for all
	// requests and never fails; a question whose request failed keeps no media.
	Prepare(ctx context.Context, questions []models.Question, persona, language string) []models.Question
}

type MediaOptions struct {
	RequestTimeout time.Duration
	Concurrency    int // 0 = one goroutine per question
}

type mediaService struct {
	gen  avatar.Generator
	opts MediaOptions
	log  *logrus.Logger
}

func NewMediaService(gen avatar.Generator, opts MediaOptions, log *logrus.Logger) MediaService {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &mediaService{gen: gen, opts: opts, log: log}
}

func (s *mediaService) Prepare(ctx context.Context, questions []models.Question, persona, language string) []models.Question {
	const op = "MediaService.Prepare"

	ctx, span := observability.Tracer().Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.Int("questions", len(questions)))

	out := make([]models.Question, len(questions))
	copy(out, questions)
	if s.gen == nil || len(out) == 0 {
		return out
	}

	persona = avatar.NormalizePersona(persona)
	start := time.Now()

	var g errgroup.Group
	if s.opts.Concurrency > 0 {
		g.SetLimit(s.opts.Concurrency)
	}
	for i := range out {
		g.Go(func() error {
			q := out[i]
			emotion := EmotionForCategory(q.Category)

			rctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
			defer cancel()

			resp, err := s.gen.Generate(rctx, avatar.Request{
				Text:     q.Text,
				Persona:  persona,
				Emotion:  emotion,
				Language: language,
				Autoplay: true,
			})
			if err == nil && (!resp.Success || resp.Handle == "") {
				err = utils.ErrMediaGeneration
			}
			if err != nil {
				metrics.MediaRequests.WithLabelValues("failed").Inc()
				s.log.WithError(utils.E(utils.CodeUnavailable, op, "media generation failed", err)).
					WithFields(logrus.Fields{"question_id": q.ID, "index": i}).
					Warn("question falls back to text")
				return nil
			}

			metrics.MediaRequests.WithLabelValues("ok").Inc()
			// each goroutine writes only its own slot
			out[i].Media = &models.MediaReference{
				Handle:  resp.Handle,
				URL:     resp.URL,
				Persona: persona,
				Emotion: emotion,
			}
			return nil
		})
	}
	_ = g.Wait()

	took := time.Since(start)
	metrics.MediaPrepareDuration.Observe(took.Seconds())

	ready := 0
	for _, q := range out {
		if q.HasMedia() {
			ready++
		}
	}
	span.SetAttributes(attribute.Int("with_media", ready))
	s.log.WithFields(logrus.Fields{
		"questions":  len(out),
		"with_media": ready,
		"took_ms":    took.Milliseconds(),
	}).Info("media prepared")
	return out
}

// EmotionForCategory picks the avatar's delivery for a question category.
func EmotionForCategory(category string) string {
	switch strings.ToLower(category) {
	case "introduction", "motivation", "career-goals", "teamwork":
		return "happy"
	case "technical", "problem-solving":
		return "serious"
	default:
		return "neutral"
	}
}
