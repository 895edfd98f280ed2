package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/report"
)

var (
	reportOutput string
	reportLink   string
)

var reportCmd = &cobra.Command{
	Use:   "report <first> [second]",
	Short: "Write a Markdown report of a comparison",
	Long: `Render a comparison as Markdown. The report is written to --output,
to the configured report sink (local directory or S3 bucket), or to
stdout when neither is set. With a single argument the commit is
compared against its parent.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		first, second := compareSides(args)

		return withQueries(func(cfg *config.Config, q *client.Queries) error {
			ctx := cmd.Context()

			repo, err := resolveRepo(ctx, cfg, repoFlag)
			if err != nil {
				return err
			}

			resp, err := q.Compare(ctx, repo, first, second)
			if err != nil {
				return fmt.Errorf("fetching comparison: %w", err)
			}

			doc := report.Document{
				Repo:     repo,
				First:    first,
				Second:   second,
				Response: resp,
				Link:     reportLink,
			}

			if doc.Link == "" {
				doc.Link = compareLink(cfg, repo, doc.ResolvedFirst(), doc.ResolvedSecond())
			}

			content := []byte(report.Markdown(doc))

			switch {
			case reportOutput == "-":
				_, err := cmd.OutOrStdout().Write(content)

				return err
			case reportOutput != "":
				if err := os.WriteFile(reportOutput, content, 0o644); err != nil {
					return fmt.Errorf("writing report: %w", err)
				}

				log.WithField("output", reportOutput).Info("Report written")

				return nil
			case !cfg.Report.IsConfigured():
				_, err := cmd.OutOrStdout().Write(content)

				return err
			}

			sink, err := report.NewSink(log, &cfg.Report)
			if err != nil {
				return err
			}

			location, err := sink.Write(ctx, report.FileName(repo, doc.ResolvedFirst(), doc.ResolvedSecond()), content)
			if err != nil {
				return fmt.Errorf("storing report: %w", err)
			}

			log.WithField("location", location).Info("Report written")

			return nil
		})
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "",
		`output file, "-" for stdout (default: the configured report sink)`)
	reportCmd.Flags().StringVar(&reportLink, "link", "",
		"link to the comparison (default: derived from server.url)")

	rootCmd.AddCommand(reportCmd)
}

// compareLink returns the web UI address of a comparison on the
// configured server.
func compareLink(cfg *config.Config, repo, first, second string) string {
	return cfg.Server.URL + "/repos/" + url.PathEscape(repo) +
		"/compare/" + url.PathEscape(first) + "/" + url.PathEscape(second) + "/"
}
