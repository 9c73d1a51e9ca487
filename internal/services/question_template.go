package services

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
	"gopkg.in/yaml.v3"
)

// CategoryPriority is the order categories are filled after the opening
// Introduction question.
var CategoryPriority = []string{
	models.CategoryExperience,
	models.CategoryTechnical,
	models.CategoryProblemSolving,
	models.CategoryTeamwork,
	models.CategoryLeadership,
	models.CategoryMotivation,
	models.CategoryCareerGoals,
}

var categoryBaseSeconds = map[string]int{
	models.CategoryIntroduction:   120,
	models.CategoryExperience:     150,
	models.CategoryTechnical:      180,
	models.CategoryProblemSolving: 180,
	models.CategoryTeamwork:       140,
	models.CategoryLeadership:     160,
	models.CategoryMotivation:     120,
	models.CategoryCareerGoals:    130,
}

// TemplateEntry is one templated question. Text may contain {title} and
// {company}.
type TemplateEntry struct {
	ID       string              `yaml:"id"`
	Category string              `yaml:"category"`
	Type     models.QuestionType `yaml:"type"`
	Text     string              `yaml:"text"`
}

type QuestionTemplate []TemplateEntry

var defaultTemplate = QuestionTemplate{
	{"intro_1", models.CategoryIntroduction, models.QuestionBehavioral, "Welcome to your interview for the {title} position at {company}! Tell me about yourself and why you're interested in this role."},
	{"intro_2", models.CategoryIntroduction, models.QuestionBehavioral, "What attracted you to this {title} position specifically?"},
	{"intro_3", models.CategoryIntroduction, models.QuestionBehavioral, "Walk me through your professional journey that led you to apply for this {title} role."},

	{"exp_1", models.CategoryExperience, models.QuestionBehavioral, "What specific experience do you have that makes you a good fit for this {title} position?"},
	{"exp_2", models.CategoryExperience, models.QuestionBehavioral, "Describe your most relevant work experience for this {title} role."},
	{"exp_3", models.CategoryExperience, models.QuestionBehavioral, "Tell me about a time when you successfully handled a responsibility similar to what this {title} position requires."},
	{"exp_4", models.CategoryExperience, models.QuestionBehavioral, "What achievements from your previous roles are you most proud of that relate to this {title} position?"},

	{"tech_1", models.CategoryTechnical, models.QuestionTechnical, "How would you approach the key responsibilities of this {title} role?"},
	{"tech_2", models.CategoryTechnical, models.QuestionTechnical, "What technical skills or knowledge do you possess that would be valuable in this {title} position?"},
	{"tech_3", models.CategoryTechnical, models.QuestionTechnical, "How do you stay updated with the latest trends and practices relevant to {title} roles?"},
	{"tech_4", models.CategoryTechnical, models.QuestionTechnical, "Describe a technical challenge you've overcome that would be relevant to this {title} position."},

	{"prob_1", models.CategoryProblemSolving, models.QuestionSituational, "Tell me about a challenging project you've worked on and how you handled it."},
	{"prob_2", models.CategoryProblemSolving, models.QuestionSituational, "Describe a time when you had to solve a complex problem under pressure. How did you approach it?"},
	{"prob_3", models.CategoryProblemSolving, models.QuestionSituational, "Give me an example of a time when you had to think creatively to solve a work-related problem."},

	{"team_1", models.CategoryTeamwork, models.QuestionBehavioral, "Tell me about a time when you worked effectively as part of a team."},
	{"team_2", models.CategoryTeamwork, models.QuestionBehavioral, "How do you handle conflicts or disagreements within a team?"},

	{"lead_1", models.CategoryLeadership, models.QuestionBehavioral, "Describe a situation where you had to lead a project or team. What was your approach?"},
	{"lead_2", models.CategoryLeadership, models.QuestionBehavioral, "How would you motivate colleagues through a difficult deadline as a {title}?"},

	{"comp_1", models.CategoryMotivation, models.QuestionBehavioral, "Why do you want to work at {company} specifically?"},
	{"comp_2", models.CategoryMotivation, models.QuestionBehavioral, "What do you know about {company} and how does it align with your career goals?"},

	{"career_1", models.CategoryCareerGoals, models.QuestionBehavioral, "Where do you see yourself in 5 years, and how does this {title} role fit into that vision?"},
	{"career_2", models.CategoryCareerGoals, models.QuestionBehavioral, "What would you like to learn in your first year at {company}?"},
}

// DefaultTemplate is the built-in 22 question job template.
func DefaultTemplate() QuestionTemplate {
	return append(QuestionTemplate(nil), defaultTemplate...)
}

// LoadTemplateFile reads a YAML list of TemplateEntry.
func LoadTemplateFile(path string) (QuestionTemplate, error) {
	const op = "LoadTemplateFile"

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "read template file", err)
	}
	var t QuestionTemplate
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "parse template file", err)
	}
	if err := t.validate(); err != nil {
		return nil, utils.E(utils.CodeInternal, op, err.Error(), nil)
	}
	return t, nil
}

func (t QuestionTemplate) validate() error {
	if len(t) == 0 {
		return errors.New("template is empty")
	}
	seen := make(map[string]bool, len(t))
	for i, e := range t {
		if e.ID == "" || e.Text == "" || e.Category == "" {
			return fmt.Errorf("entry %d: id, category and text are required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("entry %d: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
		switch e.Type {
		case models.QuestionBehavioral, models.QuestionTechnical, models.QuestionSituational:
		default:
			return fmt.Errorf("entry %d: unknown type %q", i, e.Type)
		}
	}
	return nil
}

// Build renders the template for one job and difficulty.
func (t QuestionTemplate) Build(job *models.Job, d models.Difficulty) []models.Question {
	title, company := "open", "our company"
	if job != nil {
		if job.Title != "" {
			title = job.Title
		}
		if job.Company != "" {
			company = job.Company
		}
	}
	r := strings.NewReplacer("{title}", title, "{company}", company)

	out := make([]models.Question, 0, len(t))
	for _, e := range t {
		out = append(out, models.Question{
			ID:                      e.ID,
			Text:                    r.Replace(e.Text),
			Category:                e.Category,
			Type:                    e.Type,
			ExpectedDurationSeconds: ExpectedDuration(e.Category, d),
		})
	}
	return out
}

// BuildQuestionPool renders the built-in template.
func BuildQuestionPool(job *models.Job, d models.Difficulty) []models.Question {
	return defaultTemplate.Build(job, d)
}

// ExpectedDuration is the category base time scaled by difficulty.
func ExpectedDuration(category string, d models.Difficulty) int {
	base, ok := categoryBaseSeconds[category]
	if !ok {
		base = 120
	}
	return int(math.Round(float64(base) * d.DurationMultiplier()))
}

// PracticeQuestions is the fixed set used when no job is attached.
func PracticeQuestions() []models.Question {
	qs := []models.Question{
		{ID: "general_1", Text: "Tell me about yourself and your professional background.", Category: models.CategoryIntroduction, Type: models.QuestionBehavioral},
		{ID: "general_2", Text: "What are your greatest strengths and how do they apply to your work?", Category: "Strengths", Type: models.QuestionBehavioral},
		{ID: "general_3", Text: "Where do you see yourself in the next 5 years professionally?", Category: models.CategoryCareerGoals, Type: models.QuestionBehavioral},
	}
	for i := range qs {
		qs[i].ExpectedDurationSeconds = 60
		qs[i].QuestionNumber = i + 1
		qs[i].TotalQuestions = len(qs)
	}
	return qs
}
