package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/yoockh/yoointerview/internal/models"
)

type EventType string

const (
	EventInterviewCompleted EventType = "interview.completed"
	EventInterviewCancelled EventType = "interview.cancelled"
)

// InterviewEvent is the message body on the interview.events exchange.
type InterviewEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	JobID     string `json:"job_id,omitempty"`
	Kind      string `json:"kind"`

	TotalQuestions    int  `json:"total_questions"`
	AnsweredQuestions int  `json:"answered_questions"`
	OverallScore      *int `json:"overall_score,omitempty"`
}

// NewInterviewEvent describes a finished session. result is nil for a
// cancelled one.
func NewInterviewEvent(s *models.Session, result *models.Result) InterviewEvent {
	ev := InterviewEvent{
		ID:             uuid.NewString(),
		Type:           EventInterviewCancelled,
		Timestamp:      time.Now().UTC(),
		SessionID:      s.ID,
		UserID:         s.UserID,
		Kind:           string(s.Kind),
		TotalQuestions: len(s.Questions),
	}
	if s.Job != nil {
		ev.JobID = s.Job.ID
	}
	if result != nil {
		ev.Type = EventInterviewCompleted
		ev.AnsweredQuestions = result.AnsweredQuestions
		score := result.OverallScore
		ev.OverallScore = &score
	} else {
		for _, r := range s.Responses {
			if r.Transcript != "" {
				ev.AnsweredQuestions++
			}
		}
	}
	return ev
}
