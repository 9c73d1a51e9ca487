package stt

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

// DefaultConfidence is reported when the backend returns a transcript
// without a confidence value.
const DefaultConfidence = 0.8

type GoogleSpeech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
}

// NewGoogleSpeech dials Cloud Speech. Browser recorders send Opus in WebM.
func NewGoogleSpeech(ctx context.Context, opts ...option.ClientOption) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_WEBM_OPUS,
		SampleRateHz: 48000,
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func (g *GoogleSpeech) Transcribe(ctx context.Context, req Request) (Result, error) {
	language := NormalizeLanguage(req.Language)

	cfg := &speechpb.RecognitionConfig{
		Encoding:                   g.Encoding,
		SampleRateHertz:            g.SampleRateHz,
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
	}
	if req.EnhancedModel {
		cfg.UseEnhanced = true
		cfg.Model = "latest_long"
	}

	audio, err := recognitionAudio(req)
	if err != nil {
		return Result{}, err
	}

	var results []*speechpb.SpeechRecognitionResult
	if req.Long() {
		op, err := g.c.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{Config: cfg, Audio: audio})
		if err != nil {
			return Result{}, err
		}
		resp, err := op.Wait(ctx)
		if err != nil {
			return Result{}, err
		}
		results = resp.Results
	} else {
		resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{Config: cfg, Audio: audio})
		if err != nil {
			return Result{}, err
		}
		results = resp.Results
	}
	return joinResults(results), nil
}

// recognitionAudio points long audio at its stored copy when there is one
// and sends everything else inline.
func recognitionAudio(req Request) (*speechpb.RecognitionAudio, error) {
	if req.Long() && strings.HasPrefix(req.URI, "gs://") {
		return &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: req.URI}}, nil
	}
	if len(req.Audio) > MaxInlineBytes {
		return nil, ErrAudioTooLarge
	}
	return &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio}}, nil
}

// joinResults concatenates the best alternative of each consecutive segment.
func joinResults(results []*speechpb.SpeechRecognitionResult) Result {
	var (
		parts []string
		conf  float64
		n     int
	)
	for _, r := range results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0].Transcript == "" {
			continue
		}
		alt := r.Alternatives[0]
		parts = append(parts, strings.TrimSpace(alt.Transcript))
		conf += float64(alt.Confidence)
		n++
	}
	if n == 0 {
		return Result{}
	}

	out := Result{Transcript: strings.Join(parts, " "), Confidence: conf / float64(n)}
	if out.Confidence == 0 {
		out.Confidence = DefaultConfidence
	}
	return out
}

// NormalizeLanguage maps a bare language ("en") to a region code the
// recognizer accepts.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	switch strings.ToLower(lang) {
	case "":
		return "en-US"
	case "en":
		return "en-US"
	case "id":
		return "id-ID"
	}
	return lang
}
