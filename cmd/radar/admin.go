package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/model"
)

var (
	adminToken      string
	enqueuePriority int
	maintainAggr    bool
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative actions on the radar server",
	Long: `Administrative actions authenticate with the admin token, taken from
--token or from the token stored with "radar token set".`,
}

var adminEnqueueCmd = &cobra.Command{
	Use:   "enqueue <chash>",
	Short: "Queue a commit for benchmarking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, func(repo, token string, q *client.Queries) error {
			req := model.EnqueueRequest{Repo: repo, Chash: args[0]}
			if cmd.Flags().Changed("priority") {
				req.Priority = &enqueuePriority
			}

			if err := q.Client().Enqueue(cmd.Context(), token, req); err != nil {
				return fmt.Errorf("enqueueing %s: %w", args[0], err)
			}

			q.InvalidateQueue()
			q.InvalidateCommit(repo)

			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s in %s\n", args[0], repo)

			return nil
		})
	},
}

var adminMaintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run repository maintenance on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withAdmin(cmd, func(repo, token string, q *client.Queries) error {
			req := model.MaintainRequest{Repo: repo, Aggressive: maintainAggr}
			if err := q.Client().Maintain(cmd.Context(), token, req); err != nil {
				return fmt.Errorf("maintaining %s: %w", repo, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Maintenance of %s done\n", repo)

			return nil
		})
	},
}

var adminRecomputeCmd = &cobra.Command{
	Use:   "recompute-significance",
	Short: "Recompute the significance of every comparison",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withAdmin(cmd, func(repo, token string, q *client.Queries) error {
			if err := q.Client().RecomputeSignificance(cmd.Context(), token, repo); err != nil {
				return fmt.Errorf("recomputing significance of %s: %w", repo, err)
			}

			q.InvalidateCompare(repo)
			q.InvalidateCommit(repo)

			fmt.Fprintf(cmd.OutOrStdout(), "Significance of %s recomputed\n", repo)

			return nil
		})
	},
}

var adminVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Vacuum the server database of a repo",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withAdmin(cmd, func(repo, token string, q *client.Queries) error {
			if err := q.Client().Vacuum(cmd.Context(), token, repo); err != nil {
				return fmt.Errorf("vacuuming %s: %w", repo, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Vacuum of %s done\n", repo)

			return nil
		})
	},
}

var adminMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List the metrics of a repo with usage statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRepo(cmd, func(repo string, q *client.Queries) error {
			resp, err := q.AdminMetrics(cmd.Context(), repo)
			if err != nil {
				return fmt.Errorf("fetching admin metrics: %w", err)
			}

			return writeAdminMetrics(cmd.OutOrStdout(), resp.Metrics)
		})
	},
}

var adminDeleteMetricsCmd = &cobra.Command{
	Use:   "delete <metric>...",
	Short: "Delete metrics and all their measurements",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, func(repo, token string, q *client.Queries) error {
			if err := q.Client().DeleteMetrics(cmd.Context(), token, repo, args); err != nil {
				return fmt.Errorf("deleting metrics of %s: %w", repo, err)
			}

			q.InvalidateRepo(repo)

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d metric(s) from %s\n", len(args), repo)

			return nil
		})
	},
}

var adminRenameMetricsCmd = &cobra.Command{
	Use:   "rename <old>=<new>...",
	Short: "Rename metrics",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		renames, err := parseRenames(args)
		if err != nil {
			return err
		}

		return withAdmin(cmd, func(repo, token string, q *client.Queries) error {
			if err := q.Client().RenameMetrics(cmd.Context(), token, repo, renames); err != nil {
				return fmt.Errorf("renaming metrics of %s: %w", repo, err)
			}

			q.InvalidateRepo(repo)

			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %d metric(s) in %s\n", len(renames), repo)

			return nil
		})
	},
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminToken, "token", "", "admin token (default: the stored token)")

	adminEnqueueCmd.Flags().IntVarP(&enqueuePriority, "priority", "p", 0, "queue priority")
	adminMaintainCmd.Flags().BoolVar(&maintainAggr, "aggressive", false, "run aggressive maintenance")

	adminMetricsCmd.AddCommand(adminDeleteMetricsCmd, adminRenameMetricsCmd)
	adminCmd.AddCommand(adminEnqueueCmd, adminMaintainCmd, adminRecomputeCmd, adminVacuumCmd, adminMetricsCmd)
	rootCmd.AddCommand(adminCmd)
}

// withAdmin resolves the repo and admin token and runs fn with a query
// layer.
func withAdmin(cmd *cobra.Command, fn func(repo, token string, q *client.Queries) error) error {
	return withQueries(func(cfg *config.Config, q *client.Queries) error {
		repo, err := resolveRepo(cmd.Context(), cfg, repoFlag)
		if err != nil {
			return err
		}

		token, err := resolveToken(cmd.Context(), cfg, adminToken)
		if err != nil {
			return err
		}

		return fn(repo, token, q)
	})
}

// parseRenames parses old=new pairs. Both names must be non-empty and an
// old name may appear only once.
func parseRenames(args []string) (map[string]string, error) {
	renames := make(map[string]string, len(args))

	for _, arg := range args {
		from, to, ok := strings.Cut(arg, "=")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid rename %q, expected old=new", arg)
		}

		if _, dup := renames[from]; dup {
			return nil, fmt.Errorf("metric %q renamed twice", from)
		}

		renames[from] = to
	}

	return renames, nil
}
