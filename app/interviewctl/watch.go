package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yoockh/yoointerview/internal/realtime"
	"github.com/yoockh/yoointerview/internal/turn"
)

var sessionWatchCmd = &cobra.Command{
	Use:   "watch SESSION_ID",
	Short: "Follow a live session's turn updates until it ends or Ctrl-C",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionWatch,
}

func init() {
	sessionCmd.AddCommand(sessionWatchCmd)
}

func runSessionWatch(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var renderErr error
	err = realtime.Subscribe(ctx, b.rdb, args[0], func(u turn.Update) {
		if renderErr = render(cmd.OutOrStdout(), u); renderErr != nil {
			cancel()
			return
		}
		if u.State.Terminal() {
			cancel()
		}
	})
	if renderErr != nil {
		return renderErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
