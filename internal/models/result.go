package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type Subscores struct {
	Communication      int `bson:"communication" json:"communication"`
	Confidence         int `bson:"confidence" json:"confidence"`
	Professionalism    int `bson:"professionalism" json:"professionalism"`
	TechnicalKnowledge int `bson:"technical_knowledge" json:"technical_knowledge"`
}

type Result struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	CompletedAt time.Time `json:"completed_at"`

	OverallScore int       `json:"overall_score"`
	Subscores    Subscores `json:"subscores"`

	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Feedback     string   `json:"feedback"`

	TotalQuestions    int           `json:"total_questions"`
	AnsweredQuestions int           `json:"answered_questions"`
	ResponseQuality   string        `json:"response_quality"`
	Stats             ResponseStats `json:"response_stats"`
}

// ResponseStats summarises the answered responses of a session.
type ResponseStats struct {
	MeanDurationMS   float64 `json:"mean_duration_ms"`
	MedianDurationMS float64 `json:"median_duration_ms"`
	MeanConfidence   float64 `json:"mean_confidence"`
}

// ResultRecord is the archived row of a Result in PostgreSQL.
type ResultRecord struct {
	SessionID   string    `gorm:"column:session_id;type:text;primaryKey" json:"session_id"`
	UserID      string    `gorm:"column:user_id;type:text;index" json:"user_id"`
	JobID       string    `gorm:"column:job_id;type:text;index" json:"job_id"`
	Kind        string    `gorm:"column:kind;type:text" json:"kind"`
	CompletedAt time.Time `gorm:"column:completed_at;type:timestamptz;index" json:"completed_at"`

	OverallScore int            `gorm:"column:overall_score;type:integer" json:"overall_score"`
	Subscores    datatypes.JSON `gorm:"column:subscores;type:jsonb" json:"subscores"`
	Stats        datatypes.JSON `gorm:"column:response_stats;type:jsonb" json:"response_stats"`

	Strengths    pq.StringArray `gorm:"column:strengths;type:text[]" json:"strengths"`
	Improvements pq.StringArray `gorm:"column:improvements;type:text[]" json:"improvements"`
	Feedback     string         `gorm:"column:feedback;type:text" json:"feedback"`

	TotalQuestions    int    `gorm:"column:total_questions;type:integer" json:"total_questions"`
	AnsweredQuestions int    `gorm:"column:answered_questions;type:integer" json:"answered_questions"`
	ResponseQuality   string `gorm:"column:response_quality;type:text" json:"response_quality"`
}

func (ResultRecord) TableName() string { return "interview_results" }

// NewResultRecord flattens a completed session and its result into a row.
func NewResultRecord(s *Session, r *Result) (*ResultRecord, error) {
	sub, err := json.Marshal(r.Subscores)
	if err != nil {
		return nil, err
	}
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return nil, err
	}
	rec := &ResultRecord{
		SessionID:         r.SessionID,
		UserID:            r.UserID,
		Kind:              string(s.Kind),
		CompletedAt:       r.CompletedAt,
		OverallScore:      r.OverallScore,
		Subscores:         datatypes.JSON(sub),
		Stats:             datatypes.JSON(stats),
		Strengths:         pq.StringArray(r.Strengths),
		Improvements:      pq.StringArray(r.Improvements),
		Feedback:          r.Feedback,
		TotalQuestions:    r.TotalQuestions,
		AnsweredQuestions: r.AnsweredQuestions,
		ResponseQuality:   r.ResponseQuality,
	}
	if s.Job != nil {
		rec.JobID = s.Job.ID
	}
	return rec, nil
}

func (rec *ResultRecord) Result() (*Result, error) {
	out := &Result{
		SessionID:         rec.SessionID,
		UserID:            rec.UserID,
		CompletedAt:       rec.CompletedAt,
		OverallScore:      rec.OverallScore,
		Strengths:         []string(rec.Strengths),
		Improvements:      []string(rec.Improvements),
		Feedback:          rec.Feedback,
		TotalQuestions:    rec.TotalQuestions,
		AnsweredQuestions: rec.AnsweredQuestions,
		ResponseQuality:   rec.ResponseQuality,
	}
	if len(rec.Subscores) > 0 {
		if err := json.Unmarshal(rec.Subscores, &out.Subscores); err != nil {
			return nil, err
		}
	}
	if len(rec.Stats) > 0 {
		if err := json.Unmarshal(rec.Stats, &out.Stats); err != nil {
			return nil, err
		}
	}
	return out, nil
}
