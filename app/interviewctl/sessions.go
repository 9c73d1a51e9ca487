package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoockh/yoointerview/config"
	"github.com/yoockh/yoointerview/internal/logger"
	"github.com/yoockh/yoointerview/internal/models"
	mongorepo "github.com/yoockh/yoointerview/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoointerview/internal/repositories/postgres"
	"github.com/yoockh/yoointerview/internal/utils"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect interview sessions",
}

var sessionGetCmd = &cobra.Command{
	Use:   "get SESSION_ID",
	Short: "Print a session snapshot, falling back to the MongoDB archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionGet,
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect interview results",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent results, newest first",
	Args:  cobra.NoArgs,
	RunE:  runResultsList,
}

var (
	resultsUser    string
	resultsLimit   int
	resultsArchive bool
)

func init() {
	resultsListCmd.Flags().StringVarP(&resultsUser, "user", "u", "", "Only this user's results (default: global index)")
	resultsListCmd.Flags().IntVarP(&resultsLimit, "limit", "n", 10, "Maximum results to print")
	resultsListCmd.Flags().BoolVar(&resultsArchive, "archive", false, "Read from the PostgreSQL archive instead of the live index")

	sessionCmd.AddCommand(sessionGetCmd)
	resultsCmd.AddCommand(resultsListCmd)
	rootCmd.AddCommand(sessionCmd, resultsCmd)
}

func runSessionGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	sess, err := b.kv.LoadSession(ctx, args[0])
	if err == nil {
		return render(cmd.OutOrStdout(), sess)
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return err
	}

	// snapshot expired, try the archive
	if err := config.InitMongo(); err != nil {
		return fmt.Errorf("session %s not in the live store and the archive is unreachable: %w", args[0], err)
	}
	archived, err := mongorepo.NewSessionArchiveRepo(config.MongoDatabase()).GetBySessionID(ctx, args[0])
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return fmt.Errorf("session %s not found", args[0])
		}
		return err
	}
	return render(cmd.OutOrStdout(), archived)
}

func runResultsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if resultsArchive {
		if err := config.InitPostgres(logger.New()); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		rows, err := pgrepo.NewResultRepo(config.PostgresDB).ListByUser(ctx, resultsUser, resultsLimit)
		if err != nil {
			return err
		}
		out := make([]*models.Result, 0, len(rows))
		for i := range rows {
			r, err := rows[i].Result()
			if err != nil {
				return fmt.Errorf("result %s: %w", rows[i].SessionID, err)
			}
			out = append(out, r)
		}
		return render(cmd.OutOrStdout(), out)
	}

	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	out, err := b.kv.ListResults(ctx, resultsUser, resultsLimit)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), out)
}
