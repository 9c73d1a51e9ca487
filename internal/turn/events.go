package turn

import (
	"context"

	"github.com/yoockh/yoointerview/internal/models"
)

type EventKind string

const (
	PlaybackStarted   EventKind = "playback_started"
	PlaybackEnded     EventKind = "playback_ended"
	RecognitionResult EventKind = "recognition_result"
)

// Event is a signal from the presentation side. Text and Final are only set
// for RecognitionResult.
type Event struct {
	Kind  EventKind `json:"kind"`
	Text  string    `json:"text,omitempty"`
	Final bool      `json:"final,omitempty"`
}

// Presenter owns the avatar playback channel.
type Presenter interface {
	PresentQuestion(ctx context.Context, q models.Question) error
	PresentNotice(ctx context.Context, text string) error
}

// Microphone hands out one exclusive capture at a time.
type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

type Capture interface {
	// Level is the current input volume in [0, 1].
	Level() float64
	// Stop ends the capture and returns everything recorded.
	Stop() ([]byte, error)
	// Close releases the device without returning audio. Safe to call
	// after Stop and more than once.
	Close() error
}

// Lifecycle is the part of the session service a controller drives.
type Lifecycle interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Start(ctx context.Context, sessionID string) (*models.Session, error)
	RecordResponse(ctx context.Context, sessionID string, r models.Response) (*models.Session, error)
	Advance(ctx context.Context, sessionID string) (*models.Session, error)
	Complete(ctx context.Context, sessionID string, responses []models.Response) (*models.Result, error)
	Cancel(ctx context.Context, sessionID string) (*models.Session, error)
}
