package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/model"
)

var (
	repoFlag string

	historyN      int
	historySkip   int
	historySearch string

	compareAll bool

	graphN       int
	graphMetrics []string

	botWatch bool
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List the repos tracked by the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withQueries(func(cfg *config.Config, q *client.Queries) error {
			resp, err := q.Repos(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching repos: %w", err)
			}

			return writeRepos(cmd.OutOrStdout(), resp.Repos, selectedRepo(cmd.Context(), cfg))
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent commits of a repo",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRepo(cmd, func(repo string, q *client.Queries) error {
			hq := client.HistoryQuery{
				N:      client.HistoryN.Clamp(historyN),
				Skip:   client.HistorySkip.Clamp(historySkip),
				Search: client.HistorySearch.Parse(historySearch),
			}

			resp, err := q.History(cmd.Context(), repo, hq)
			if err != nil {
				return fmt.Errorf("fetching history: %w", err)
			}

			return writeHistory(cmd.OutOrStdout(), resp.Commits)
		})
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit <chash>",
	Short: "Show a commit with its parents, children and runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(cmd, func(repo string, q *client.Queries) error {
			resp, err := q.Commit(cmd.Context(), repo, args[0])
			if err != nil {
				return fmt.Errorf("fetching commit: %w", err)
			}

			return writeCommit(cmd.OutOrStdout(), resp)
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run <chash> <run>",
	Short: "Show the output of a finished run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(cmd, func(repo string, q *client.Queries) error {
			resp, err := q.CommitRun(cmd.Context(), repo, args[0], args[1])
			if err != nil {
				return fmt.Errorf("fetching run: %w", err)
			}

			writeCommitRun(cmd.OutOrStdout(), resp)

			return nil
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs <chash>",
	Short: "List the finished runs of a commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(cmd, func(repo string, q *client.Queries) error {
			resp, err := q.Runs(cmd.Context(), repo, args[0])
			if err != nil {
				return fmt.Errorf("fetching runs: %w", err)
			}

			return writeRuns(cmd.OutOrStdout(), resp.Runs)
		})
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <first> [second]",
	Short: "Compare two commits and list the significant changes",
	Long: `Compare two commits. Either side may be "parent" or "child" to refer
to the parent or child of the other side. With a single argument the
commit is compared against its parent.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		first, second := compareSides(args)

		return withRepo(cmd, func(repo string, q *client.Queries) error {
			resp, err := q.Compare(cmd.Context(), repo, first, second)
			if err != nil {
				return fmt.Errorf("fetching comparison: %w", err)
			}

			return writeCompare(cmd.OutOrStdout(), resp, compareAll)
		})
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show metric values over recent commits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRepo(cmd, func(repo string, q *client.Queries) error {
			gq := client.GraphQuery{N: client.GraphN.Clamp(graphN), Metrics: graphMetrics}

			resp, err := q.Graph(cmd.Context(), repo, gq)
			if err != nil {
				return fmt.Errorf("fetching graph: %w", err)
			}

			return writeGraph(cmd.OutOrStdout(), resp)
		})
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List the metrics of a repo",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRepo(cmd, func(repo string, q *client.Queries) error {
			resp, err := q.Metrics(cmd.Context(), repo)
			if err != nil {
				return fmt.Errorf("fetching metrics: %w", err)
			}

			return writeMetricList(cmd.OutOrStdout(), resp.Metrics)
		})
	},
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "List benchmark commands issued through the GitHub bot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRepo(cmd, func(repo string, q *client.Queries) error {
			out := cmd.OutOrStdout()

			if botWatch {
				return watch(cmd.Context(), q.WatchGithubBot(repo), func(v any) error {
					resp, ok := v.(*model.GithubBotResponse)
					if !ok {
						return fmt.Errorf("unexpected github bot value %T", v)
					}

					clearScreen(out)

					return writeBotCommands(out, resp.Commands)
				})
			}

			resp, err := q.GithubBot(cmd.Context(), repo)
			if err != nil {
				return fmt.Errorf("fetching github bot commands: %w", err)
			}

			return writeBotCommands(out, resp.Commands)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoFlag, "repo", "r", "",
		"repo to query (default: the selected repo)")

	historyCmd.Flags().IntVarP(&historyN, "limit", "n", client.DefaultHistoryLength, "number of commits")
	historyCmd.Flags().IntVar(&historySkip, "skip", 0, "number of commits to skip")
	historyCmd.Flags().StringVarP(&historySearch, "search", "s", "", "only list commits matching this text")

	compareCmd.Flags().BoolVarP(&compareAll, "all", "a", false, "list every measured metric, not only significant ones")

	graphCmd.Flags().IntVarP(&graphN, "limit", "n", client.DefaultHistoryLength, "number of commits")
	graphCmd.Flags().StringSliceVarP(&graphMetrics, "metric", "m", nil, "metric to include (repeatable)")

	botCmd.Flags().BoolVarP(&botWatch, "watch", "w", false, "keep polling and redraw on change")

	rootCmd.AddCommand(reposCmd, historyCmd, commitCmd, runCmd, runsCmd, compareCmd, graphCmd, metricsCmd, botCmd)
}

// compareSides maps the compare arguments to the first and second side.
func compareSides(args []string) (string, string) {
	if len(args) == 1 {
		return client.CompareParent, args[0]
	}

	return args[0], args[1]
}

// withRepo resolves the repo and runs fn with a query layer.
func withRepo(cmd *cobra.Command, fn func(repo string, q *client.Queries) error) error {
	return withQueries(func(cfg *config.Config, q *client.Queries) error {
		repo, err := resolveRepo(cmd.Context(), cfg, repoFlag)
		if err != nil {
			return err
		}

		return fn(repo, q)
	})
}

// selectedRepo returns the selected repo, or "" when none is selected or
// the preferences cannot be read.
func selectedRepo(ctx context.Context, cfg *config.Config) string {
	store, closeFn, err := openPrefs(ctx, cfg)
	if err != nil {
		log.WithError(err).Debug("Preferences unavailable")

		return ""
	}
	defer closeFn()

	return store.SelectedRepo().OrElse("")
}
