package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/indexer"
	"github.com/leanprover/radar/pkg/indexstore"
)

var (
	indexLimit   int
	indexReindex bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run one significance indexing pass",
	Long: `Run one pass of the significance indexer over the configured repos
(or --repo), then exit. Uses the indexing.database settings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withIndexStore(func(cfg *config.Config, store indexstore.Store, q *client.Queries) error {
			ctx := cmd.Context()

			indexing := cfg.Indexing
			if repoFlag != "" {
				indexing.Repos = []string{repoFlag}
			}

			if indexReindex {
				for _, repo := range indexing.Repos {
					n, err := store.MarkRepoIncomplete(ctx, repo)
					if err != nil {
						return fmt.Errorf("marking %s for reindexing: %w", repo, err)
					}

					log.WithField("repo", repo).WithField("summaries", n).Info("Marked for reindexing")
				}
			}

			idx := indexer.NewIndexer(log, store, q.Client(), &indexing)

			return idx.RunPass(ctx)
		})
	},
}

var indexShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the indexed summaries of a repo",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withIndexStore(func(cfg *config.Config, store indexstore.Store, _ *client.Queries) error {
			repo, err := resolveRepo(cmd.Context(), cfg, repoFlag)
			if err != nil {
				return err
			}

			summaries, err := store.ListSummaries(cmd.Context(), repo, indexLimit)
			if err != nil {
				return fmt.Errorf("listing summaries: %w", err)
			}

			return writeIndex(cmd.OutOrStdout(), summaries)
		})
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexReindex, "reindex", false,
		"reindex already indexed commits (requires --repo or indexing.repos)")
	indexShowCmd.Flags().IntVarP(&indexLimit, "limit", "n", 50, "number of summaries, 0 for all")

	indexCmd.AddCommand(indexShowCmd)
	rootCmd.AddCommand(indexCmd)
}

// withIndexStore opens the configured index database around fn.
func withIndexStore(fn func(cfg *config.Config, store indexstore.Store, q *client.Queries) error) error {
	return withQueries(func(cfg *config.Config, q *client.Queries) error {
		if err := cfg.Indexing.Database.Validate(); err != nil {
			return fmt.Errorf("validating indexing.database: %w", err)
		}

		store := indexstore.NewStore(log, &cfg.Indexing.Database)

		if err := store.Start(context.Background()); err != nil {
			return fmt.Errorf("opening index store: %w", err)
		}

		defer func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Failed to close index store")
			}
		}()

		return fn(cfg, store, q)
	})
}
