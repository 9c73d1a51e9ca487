package models

import "strings"

type QuestionType string

const (
	QuestionBehavioral  QuestionType = "behavioral"
	QuestionTechnical   QuestionType = "technical"
	QuestionSituational QuestionType = "situational"
)

// Question categories. Introduction is always asked first.
const (
	CategoryIntroduction   = "Introduction"
	CategoryExperience     = "Experience"
	CategoryTechnical      = "Technical"
	CategoryProblemSolving = "Problem-Solving"
	CategoryTeamwork       = "Teamwork"
	CategoryLeadership     = "Leadership"
	CategoryMotivation     = "Motivation"
	CategoryCareerGoals    = "Career-Goals"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func ParseDifficulty(v string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(v))) {
	case DifficultyEasy:
		return DifficultyEasy, true
	case DifficultyMedium, "":
		return DifficultyMedium, true
	case DifficultyHard:
		return DifficultyHard, true
	default:
		return "", false
	}
}

// DurationMultiplier scales a question's expected answer time.
func (d Difficulty) DurationMultiplier() float64 {
	switch d {
	case DifficultyEasy:
		return 0.8
	case DifficultyHard:
		return 1.2
	default:
		return 1.0
	}
}

// MediaReference is an opaque handle to a pre-rendered avatar clip.
type MediaReference struct {
	Handle  string `bson:"handle" json:"handle"`
	URL     string `bson:"url,omitempty" json:"url,omitempty"`
	Persona string `bson:"persona,omitempty" json:"persona,omitempty"`
	Emotion string `bson:"emotion,omitempty" json:"emotion,omitempty"`
}

type Question struct {
	ID                      string       `bson:"id" json:"id"`
	Text                    string       `bson:"text" json:"text"`
	Category                string       `bson:"category" json:"category"`
	Type                    QuestionType `bson:"type" json:"type"`
	ExpectedDurationSeconds int          `bson:"expected_duration_seconds" json:"expected_duration_seconds"`
	QuestionNumber          int          `bson:"question_number" json:"question_number"`
	TotalQuestions          int          `bson:"total_questions" json:"total_questions"`

	// nil means text-only presentation
	Media *MediaReference `bson:"media,omitempty" json:"media,omitempty"`
}

func (q Question) HasMedia() bool { return q.Media != nil && q.Media.Handle != "" }
