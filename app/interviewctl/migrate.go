package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoockh/yoointerview/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate-legacy",
	Short: "Move legacy interview keys into the canonical store",
	Long:  "Converts quick_interview_* sessions, used_interview_questions and interview_results into the interview:* keys and deletes the legacy keys. Running it twice is a no-op.",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := store.MigrateLegacy(cmd.Context(), b.cache, b.kv, b.log)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return render(cmd.OutOrStdout(), report)
}
