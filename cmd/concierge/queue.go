package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/m3rciful/concierge/core/app"
	"github.com/m3rciful/concierge/core/queue"
)

// deadLetterSource is implemented by queues that keep exhausted messages.
type deadLetterSource interface {
	DeadLetters(ctx context.Context, limit int64) ([][]byte, error)
}

var errNoDeadLetters = errors.New("queue: dead letters require the redis driver")

func queueCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the update queue",
	}
	cmd.AddCommand(queueDeadLettersCmd(configPath))
	return cmd
}

func queueDeadLettersCmd(configPath *string) *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Print updates that exhausted their deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd.Context(), *configPath, func(ctx context.Context, deps *app.Deps) error {
				q, err := deps.Queue(ctx)
				if err != nil {
					return err
				}
				return printDeadLetters(ctx, cmd.OutOrStdout(), q, limit)
			})
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 20, "maximum number of messages to print")
	return cmd
}

// printDeadLetters writes one line per dead-lettered update, newest first.
func printDeadLetters(ctx context.Context, w io.Writer, q queue.Queue, limit int64) error {
	src, ok := q.(deadLetterSource)
	if !ok {
		return errNoDeadLetters
	}
	if limit <= 0 {
		limit = 20
	}
	bodies, err := src.DeadLetters(ctx, limit)
	if err != nil {
		return err
	}
	for _, b := range bodies {
		env, err := queue.Decode(b)
		if err != nil {
			if _, err := fmt.Fprintf(w, "undecodable\t%s\n", b); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n",
			env.ReceivedAt.UTC().Format(time.RFC3339), env.EventType, env.Update); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "%d dead letter(s)\n", len(bodies))
	return err
}
