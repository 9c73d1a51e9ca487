package stt

import (
	"context"
	"errors"
	"time"
)

const (
	// MaxInlineBytes is the largest audio payload the recognizer accepts in
	// the request body.
	MaxInlineBytes = 10 << 20
	// MaxSyncDuration is the longest audio synchronous recognition accepts,
	// less a margin for the recorder's start latency.
	MaxSyncDuration = 55 * time.Second
)

var ErrAudioTooLarge = errors.New("audio exceeds the inline limit and has no storage uri")

type Request struct {
	Audio    []byte
	Language string // BCP-47, ex: "en-US"

	// URI is a gs:// object holding the same audio, used for long audio.
	URI string
	// Duration is the recorded length; zero when unknown.
	Duration time.Duration

	// EnhancedModel asks the backend for its higher accuracy model.
	EnhancedModel bool
}

// Long reports whether the audio is beyond what a synchronous request takes.
func (r Request) Long() bool {
	return r.Duration > MaxSyncDuration || len(r.Audio) > MaxInlineBytes
}

type Result struct {
	Transcript string
	Confidence float64
}

type Provider interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
	Close() error
}
