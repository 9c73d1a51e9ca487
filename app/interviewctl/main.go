// Command interviewctl is the operator tool for the interview engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "interviewctl",
	Short:         "Operate the interview session engine",
	Long:          "interviewctl runs the one-time legacy data migration and inspects interview sessions, results and question selection.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var outputFormat string

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "Output format: yaml or json")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
