package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yoockh/yoointerview/internal/models"
)

const (
	maxAnswerRunes   = 600
	maxFeedbackRunes = 600
)

// Coach writes a short feedback paragraph for a finished interview.
type Coach struct {
	Provider Provider
}

func NewCoach(p Provider) *Coach { return &Coach{Provider: p} }

func (c *Coach) Feedback(ctx context.Context, s *models.Session, r *models.Result) (string, error) {
	chunks, errs := c.Provider.Stream(ctx, FeedbackPrompt(s, r))

	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}
	if err := <-errs; err != nil {
		return "", err
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("empty feedback")
	}
	return truncate(text, maxFeedbackRunes), nil
}

// FeedbackPrompt lists every question with its transcript and asks for
// feedback consistent with the already computed score.
func FeedbackPrompt(s *models.Session, r *models.Result) string {
	var b strings.Builder
	b.WriteString("You are an interview coach. Write 2-3 encouraging sentences of feedback for the candidate below.\n")
	if s.Job != nil && s.Job.Title != "" {
		fmt.Fprintf(&b, "Role: %s", s.Job.Title)
		if s.Job.Company != "" {
			fmt.Fprintf(&b, " at %s", s.Job.Company)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Role: general practice interview\n")
	}
	fmt.Fprintf(&b, "Overall score: %d%%. Answered %d of %d questions.\n", r.OverallScore, r.AnsweredQuestions, r.TotalQuestions)
	fmt.Fprintf(&b, "Reply in language %q. Do not mention the score twice. Plain text only.\n\n", s.Language)

	for i, q := range s.Questions {
		fmt.Fprintf(&b, "Q%d (%s): %s\n", i+1, q.Category, q.Text)
		answer := "(no answer)"
		if i < len(s.Responses) && s.Responses[i].Transcript != "" && s.Responses[i].Source != models.SourceSkipped {
			answer = truncate(s.Responses[i].Transcript, maxAnswerRunes)
		}
		fmt.Fprintf(&b, "A%d: %s\n", i+1, answer)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
