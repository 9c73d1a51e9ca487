package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/services"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Inspect question selection",
}

var questionsPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the questions a fresh job interview would get",
	Long:  "Builds the question pool for a job from the default or a YAML template and selects questions as if the job had no history. Nothing is stored.",
	Args:  cobra.NoArgs,
	RunE:  runQuestionsPreview,
}

var (
	previewTitle      string
	previewCompany    string
	previewDifficulty string
	previewCount      int
	previewTemplate   string
	previewPractice   bool
)

func init() {
	f := questionsPreviewCmd.Flags()
	f.StringVar(&previewTitle, "title", "", "Job title")
	f.StringVar(&previewCompany, "company", "", "Company name")
	f.StringVarP(&previewDifficulty, "difficulty", "d", "medium", "easy, medium or hard")
	f.IntVarP(&previewCount, "count", "n", 10, "Questions to select")
	f.StringVarP(&previewTemplate, "template", "t", "", "YAML question template (default: built-in)")
	f.BoolVar(&previewPractice, "practice", false, "Preview the practice set instead")

	questionsCmd.AddCommand(questionsPreviewCmd)
	rootCmd.AddCommand(questionsCmd)
}

func runQuestionsPreview(cmd *cobra.Command, _ []string) error {
	difficulty, ok := models.ParseDifficulty(previewDifficulty)
	if !ok {
		return fmt.Errorf("unknown difficulty %q", previewDifficulty)
	}

	var pool []models.Question
	if previewPractice {
		pool = services.PracticeQuestions()
	} else {
		tmpl := services.DefaultTemplate()
		if previewTemplate != "" {
			var err error
			if tmpl, err = services.LoadTemplateFile(previewTemplate); err != nil {
				return err
			}
		}
		pool = tmpl.Build(&models.Job{Title: previewTitle, Company: previewCompany}, difficulty)
	}

	selected, err := services.SelectQuestions(pool, nil, previewCount)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), selected)
}
