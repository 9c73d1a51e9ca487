package services

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/yoockh/yoointerview/internal/models"
)

// ResultAggregator folds a finished session into its Result.
type ResultAggregator interface {
	Aggregate(s *models.Session, responses []models.Response) *models.Result
}

// The scoring below is a placeholder heuristic: a base per session kind
// plus bounded random variation. It carries no grading rationale.
const (
	baseScoreJob      = 80.0
	baseScorePractice = 75.0
	scoreVariation    = 10.0
	minOverall        = 60.0
	maxOverall        = 95.0
)

var (
	defaultStrengths = []string{
		"Clear communication skills",
		"Professional demeanor",
		"Good problem-solving approach",
	}
	defaultImprovements = []string{
		"Practice explaining technical concepts more clearly",
		"Work on reducing filler words",
		"Improve your storytelling structure",
	}
)

type placeholderAggregator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// NewResultAggregator seeds from the clock when src is nil.
func NewResultAggregator(src rand.Source) ResultAggregator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &placeholderAggregator{rnd: rand.New(src), now: time.Now}
}

func (a *placeholderAggregator) Aggregate(s *models.Session, responses []models.Response) *models.Result {
	base := baseScoreJob
	if s.Kind == models.KindPractice {
		base = baseScorePractice
	}

	a.mu.Lock()
	overall := clamp(base+a.rnd.Float64()*2*scoreVariation-scoreVariation, minOverall, maxOverall)
	sub := models.Subscores{
		Communication:      subscore(overall*0.95 + a.rnd.Float64()*10),
		Confidence:         subscore(overall*0.9 + a.rnd.Float64()*15),
		Professionalism:    subscore(overall*1.02 + a.rnd.Float64()*8),
		TechnicalKnowledge: subscore(overall*0.88 + a.rnd.Float64()*20),
	}
	a.mu.Unlock()

	score := int(math.Round(overall))
	answered := countAnswered(responses)

	return &models.Result{
		SessionID:         s.ID,
		UserID:            s.UserID,
		CompletedAt:       a.now().UTC(),
		OverallScore:      score,
		Subscores:         sub,
		Strengths:         append([]string(nil), defaultStrengths...),
		Improvements:      append([]string(nil), defaultImprovements...),
		Feedback:          feedbackFor(score),
		TotalQuestions:    len(responses),
		AnsweredQuestions: answered,
		ResponseQuality:   responseQuality(answered, len(responses)),
		Stats:             responseStats(responses),
	}
}

func feedbackFor(score int) string {
	return fmt.Sprintf("Great effort! Your overall performance scored %d%%. Keep practicing to improve your interview skills.", score)
}

func countAnswered(responses []models.Response) int {
	n := 0
	for _, r := range responses {
		if r.Transcript != "" && r.Source != models.SourceSkipped {
			n++
		}
	}
	return n
}

func responseQuality(answered, total int) string {
	if total == 0 {
		return "Limited"
	}
	ratio := float64(answered) / float64(total)
	switch {
	case ratio >= 0.8:
		return "Good"
	case ratio >= 0.5:
		return "Fair"
	default:
		return "Limited"
	}
}

func responseStats(responses []models.Response) models.ResponseStats {
	var durations, confidences stats.Float64Data
	for _, r := range responses {
		if r.Transcript == "" || r.Source == models.SourceSkipped {
			continue
		}
		durations = append(durations, float64(r.DurationMS))
		confidences = append(confidences, r.Confidence)
	}
	if len(durations) == 0 {
		return models.ResponseStats{}
	}

	var out models.ResponseStats
	out.MeanDurationMS, _ = stats.Mean(durations)
	out.MedianDurationMS, _ = stats.Median(durations)
	conf, _ := stats.Mean(confidences)
	out.MeanConfidence, _ = stats.Round(conf, 2)
	return out
}

func subscore(v float64) int { return int(math.Round(clamp(v, 0, 100))) }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
