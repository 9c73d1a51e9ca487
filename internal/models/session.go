package models

import "time"

type SessionStatus string

const (
	StatusReady      SessionStatus = "ready"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo enforces ready -> in_progress -> {completed, cancelled}.
// A ready session may also be cancelled directly.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusReady:
		return next == StatusInProgress || next == StatusCancelled
	case StatusInProgress:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

type SessionKind string

const (
	KindJob      SessionKind = "job"
	KindPractice SessionKind = "practice"
)

type Session struct {
	ID     string      `bson:"session_id" json:"id"`
	UserID string      `bson:"user_id" json:"user_id"`
	Kind   SessionKind `bson:"kind" json:"kind"`

	Job        *Job       `bson:"job,omitempty" json:"job_context,omitempty"`
	Difficulty Difficulty `bson:"difficulty,omitempty" json:"difficulty,omitempty"`
	Language   string     `bson:"language" json:"language"`

	Questions    []Question    `bson:"questions" json:"questions"`
	CurrentIndex int           `bson:"current_index" json:"current_index"`
	Status       SessionStatus `bson:"status" json:"status"`
	Responses    []Response    `bson:"responses" json:"responses"`

	CreatedAt                  time.Time  `bson:"created_at" json:"created_at"`
	StartTime                  time.Time  `bson:"start_time" json:"start_time"`
	EndedAt                    *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	TotalDurationBudgetSeconds int        `bson:"total_duration_budget_seconds" json:"total_duration_budget_seconds"`
	AvatarPersona              string     `bson:"avatar_persona" json:"avatar_persona"`
}

// CurrentQuestion returns the question at CurrentIndex, if any remain.
func (s *Session) CurrentQuestion() (Question, bool) {
	if s == nil || s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

// Budget is the whole-session countdown.
func (s *Session) Budget() time.Duration {
	return time.Duration(s.TotalDurationBudgetSeconds) * time.Second
}

// Remaining is what is left of the budget at now, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	left := s.Budget() - now.Sub(s.StartTime)
	if left < 0 {
		return 0
	}
	return left
}

// Clone copies the session deep enough that the copy's slices can be
// mutated independently.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Questions = append([]Question(nil), s.Questions...)
	out.Responses = append([]Response(nil), s.Responses...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}

type ResponseSource string

const (
	SourceLive          ResponseSource = "live"          // partial transcript from the recognizer
	SourceTranscription ResponseSource = "transcription" // backend speech-to-text
	SourcePlaceholder   ResponseSource = "placeholder"   // transcription failed
	SourceEmpty         ResponseSource = "empty"         // nothing captured
	SourceTruncated     ResponseSource = "truncated"     // cut off by the session timer
	SourceSkipped       ResponseSource = "skipped"       // never presented
)

type Response struct {
	QuestionID string         `bson:"question_id" json:"question_id"`
	Transcript string         `bson:"transcript" json:"transcript"`
	AudioRef   string         `bson:"audio_ref,omitempty" json:"audio_ref,omitempty"`
	DurationMS int64          `bson:"duration_ms" json:"duration_ms"`
	Confidence float64        `bson:"confidence" json:"confidence"`
	Source     ResponseSource `bson:"source" json:"source"`
	Timestamp  time.Time      `bson:"timestamp" json:"timestamp"`
}
