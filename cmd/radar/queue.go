package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/query"
)

var queueWatch bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the runners and the bench queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withQueries(func(_ *config.Config, q *client.Queries) error {
			out := cmd.OutOrStdout()

			if queueWatch {
				return watch(cmd.Context(), q.WatchQueue(), func(v any) error {
					resp, ok := v.(*model.QueueResponse)
					if !ok {
						return fmt.Errorf("unexpected queue value %T", v)
					}

					clearScreen(out)

					return writeQueue(out, resp)
				})
			}

			resp, err := q.Queue(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching queue: %w", err)
			}

			return writeQueue(out, resp)
		})
	},
}

var queueRunCmd = &cobra.Command{
	Use:   "queue-run <chash> <run>",
	Short: "Show the live output of a queued run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(cmd, func(repo string, q *client.Queries) error {
			out := cmd.OutOrStdout()

			if queueWatch {
				return watch(cmd.Context(), q.WatchQueueRun(repo, args[0], args[1]), func(v any) error {
					res, ok := v.(client.QueueRunResult)
					if !ok {
						return fmt.Errorf("unexpected queue run value %T", v)
					}

					clearScreen(out)
					writeQueueRun(out, res)

					return nil
				})
			}

			res, err := q.QueueRun(cmd.Context(), repo, args[0], args[1])
			if err != nil {
				return fmt.Errorf("fetching queue run: %w", err)
			}

			writeQueueRun(out, res)

			return nil
		})
	},
}

func init() {
	queueCmd.Flags().BoolVarP(&queueWatch, "watch", "w", false, "keep polling and redraw on change")
	queueRunCmd.Flags().BoolVarP(&queueWatch, "watch", "w", false, "keep polling and redraw on change")

	rootCmd.AddCommand(queueCmd, queueRunCmd)
}

// watch renders every update of sub until interrupted. Fetch errors are
// logged and the last good value stays on screen.
func watch(ctx context.Context, sub *query.Subscription, render func(v any) error) error {
	defer sub.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-sub.Updates():
			if !ok {
				return nil
			}

			if res.Err != nil {
				log.WithError(res.Err).Warn("Refresh failed")

				if res.Value == nil {
					continue
				}
			}

			if err := render(res.Value); err != nil {
				return err
			}
		}
	}
}

func clearScreen(w io.Writer) {
	if f, ok := w.(*os.File); ok && f == os.Stdout {
		fmt.Fprint(w, "\033[H\033[2J")
	}
}
