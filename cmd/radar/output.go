package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/format"
	"github.com/leanprover/radar/pkg/indexstore"
	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/significance"
)

const (
	shortChashLen = 12
	timeLayout    = "2006-01-02 15:04"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
)

// colorize paints s by goodness. Neutral text is left alone.
func colorize(g model.Goodness, s string) string {
	switch g {
	case model.Good:
		return green(s)
	case model.Bad:
		return red(s)
	default:
		return s
	}
}

func shortChash(chash string) string {
	if len(chash) > shortChashLen {
		return chash[:shortChashLen]
	}

	return chash
}

// renderMessage renders msg for a terminal, colouring each change by its
// own goodness.
func renderMessage(msg model.Message) string {
	var sb strings.Builder

	for _, span := range significance.Render(msg, format.New()).Spans {
		switch span.Kind {
		case model.SegmentMetric, model.SegmentRun:
			sb.WriteString(bold(span.Text))
		default:
			sb.WriteString(colorize(span.Goodness, span.Text))
		}
	}

	return sb.String()
}

// messageMarker is the list bullet of a message.
func messageMarker(g model.Goodness) string {
	switch g {
	case model.Good:
		return green("+")
	case model.Bad:
		return red("-")
	default:
		return "·"
	}
}

func newTable(w io.Writer, headers []string, align tw.Align) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Header(headers)

	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = align
	})

	return table
}

func renderTable(table *tablewriter.Table, data [][]string) error {
	defer func() { _ = table.Close() }()

	if err := table.Bulk(data); err != nil {
		return err
	}

	return table.Render()
}

func writeRepos(w io.Writer, repos []model.Repo, selected string) error {
	data := make([][]string, 0, len(repos))

	for _, repo := range repos {
		name := repo.Name
		if name == selected {
			name = bold(name + " *")
		}

		data = append(data, []string{name, repo.Description, repo.URL})
	}

	return renderTable(newTable(w, []string{"Repo", "Description", "URL"}, tw.AlignLeft), data)
}

func writeHistory(w io.Writer, commits []model.Commit) error {
	data := make([][]string, 0, len(commits))

	for _, c := range commits {
		data = append(data, []string{
			shortChash(c.Chash),
			c.Committer.Time.Local().Format(timeLayout),
			c.Author.Name,
			c.Title,
		})
	}

	return renderTable(newTable(w, []string{"Commit", "Committed", "Author", "Title"}, tw.AlignLeft), data)
}

func writeCommit(w io.Writer, resp *model.CommitResponse) error {
	fmt.Fprintf(w, "%s %s\n", bold(resp.Chash), resp.Title)
	fmt.Fprintf(w, "Author:    %s <%s> %s\n", resp.Author.Name, resp.Author.Email,
		resp.Author.Time.Local().Format(timeLayout))
	fmt.Fprintf(w, "Committer: %s <%s> %s\n", resp.Committer.Name, resp.Committer.Email,
		resp.Committer.Time.Local().Format(timeLayout))

	if body, ok := resp.Body.Get(); ok && strings.TrimSpace(body) != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(body, "\n"))
	}

	writeLinked(w, "Parents", resp.Parents)
	writeLinked(w, "Children", resp.Children)

	if len(resp.Runs) == 0 {
		fmt.Fprintln(w, "\nNo runs.")

		return nil
	}

	fmt.Fprintln(w)

	data := make([][]string, 0, len(resp.Runs))

	for _, run := range resp.Runs {
		exit := ""

		if res, ok := run.Finished.Get(); ok {
			exit = strconv.Itoa(res.ExitCode)
			if res.ExitCode != 0 {
				exit = red(exit)
			}
		}

		data = append(data, []string{run.Name, run.Script, run.Runner, run.State().String(), exit})
	}

	return renderTable(newTable(w, []string{"Run", "Script", "Runner", "State", "Exit"}, tw.AlignLeft), data)
}

func writeLinked(w io.Writer, title string, commits []model.LinkedCommit) {
	if len(commits) == 0 {
		return
	}

	fmt.Fprintf(w, "\n%s:\n", title)

	for _, c := range commits {
		line := shortChash(c.Chash) + " " + c.Title
		if !c.Tracked {
			line = faint(line + " (untracked)")
		}

		fmt.Fprintf(w, "  %s\n", line)
	}
}

// writeCompare prints the significant changes followed by the metric
// table.
func writeCompare(w io.Writer, resp *model.CompareResponse, all bool) error {
	fmt.Fprintf(w, "Comparing %s against %s\n",
		bold(shortChash(resp.ChashSecond.OrElse("?"))),
		bold(shortChash(resp.ChashFirst.OrElse("?"))))

	summary := significance.Classify(&resp.Comparison)

	if summary.Empty() {
		fmt.Fprintln(w, "\nNo significant changes.")
	}

	writeMessages(w, "Runs", summary.RunMessages)
	writeMessages(w, "Major changes", summary.MajorMetricMessages)
	writeMessages(w, "Minor changes", summary.MinorMetricMessages)

	rows := metricRows(resp.Comparison.Metrics, all)
	if len(rows) == 0 {
		return nil
	}

	fmt.Fprintln(w)

	return renderTable(newTable(w, []string{"Metric", "First", "Second", "Change"}, tw.AlignRight), rows)
}

func writeMessages(w io.Writer, title string, messages []model.Message) {
	if len(messages) == 0 {
		return
	}

	good, bad, neutral := significance.Count(messages)

	fmt.Fprintf(w, "\n%s (%s, %s, %d):\n", bold(title),
		green(strconv.Itoa(good)+" good"), red(strconv.Itoa(bad)+" bad"), neutral)

	for _, msg := range messages {
		fmt.Fprintf(w, "  %s %s\n", messageMarker(msg.Goodness), renderMessage(msg))
	}
}

// metricRows builds the comparison table. Without all only significant
// metrics are listed.
func metricRows(metrics []model.MetricComparison, all bool) [][]string {
	f := format.New()
	signed := f.WithSign(true)

	var rows [][]string

	for _, m := range metrics {
		if !all && !m.Significance.IsPresent() {
			continue
		}

		unit := m.Unit.OrElse("")
		side := func(v *float64) string {
			if v == nil {
				return faint("n/a")
			}

			return f.ValueWithUnit(*v, unit)
		}

		change := ""

		if !m.HasData() {
			change = faint("no data")
		} else if delta, ok := m.Delta(); ok {
			change = signed.ValueWithUnit(delta, unit)
			if first, _ := m.First.Get(); first != 0 {
				change += " (" + signed.Value(delta/first, format.UnitFraction) + ")"
			}

			change = colorize(significance.Grade(delta, m.Direction), change)
		}

		rows = append(rows, []string{m.Metric, side(m.First.Ptr()), side(m.Second.Ptr()), change})
	}

	return rows
}

func writeQueue(w io.Writer, resp *model.QueueResponse) error {
	runners := make([][]string, 0, len(resp.Runners))

	for _, r := range resp.Runners {
		state := red("disconnected")
		if r.Connected {
			state = green("connected")
		}

		lastSeen := ""
		if ts, ok := r.LastSeen.Get(); ok {
			lastSeen = ts.Local().Format(timeLayout)
		}

		runners = append(runners, []string{r.Name, state, lastSeen})
	}

	if err := renderTable(newTable(w, []string{"Runner", "State", "Last Seen"}, tw.AlignLeft), runners); err != nil {
		return err
	}

	if len(resp.Tasks) == 0 {
		fmt.Fprintln(w, "\nQueue is empty.")

		return nil
	}

	fmt.Fprintln(w)

	tasks := make([][]string, 0, len(resp.Tasks))

	for _, t := range resp.Tasks {
		var active, finished int

		for _, run := range t.Runs {
			switch run.State() {
			case model.RunActive:
				active++
			case model.RunFinished:
				finished++
			}
		}

		tasks = append(tasks, []string{
			t.Repo,
			shortChash(t.Chash),
			t.Title,
			fmt.Sprintf("%d/%d", finished, len(t.Runs)),
			strconv.Itoa(active),
		})
	}

	return renderTable(newTable(w, []string{"Repo", "Commit", "Title", "Done", "Active"}, tw.AlignLeft), tasks)
}

func writeQueueRun(w io.Writer, res client.QueueRunResult) {
	if !res.Found || res.Run == nil {
		fmt.Fprintln(w, "Run is not queued.")

		return
	}

	fmt.Fprintf(w, "Runner: %s\nScript: %s\n", res.Run.Runner, res.Run.Script)

	active, ok := res.Run.ActiveRun.Get()
	if !ok {
		fmt.Fprintln(w, "Waiting for a runner.")

		return
	}

	fmt.Fprintf(w, "Started: %s (bench %s)\n",
		active.StartTime.Local().Format(timeLayout), shortChash(active.BenchChash))
	writeOutputLines(w, active.Lines.Lines)
}

func writeOutputLines(w io.Writer, lines []model.OutputLine) {
	for _, line := range lines {
		text := line.Line
		if line.Source != 0 {
			text = red(text)
		}

		fmt.Fprintf(w, "%s %s\n", faint(line.Time.Local().Format("15:04:05")), text)
	}
}

func writeCommitRun(w io.Writer, resp *model.CommitRunResponse) {
	exit := strconv.Itoa(resp.ExitCode)
	if resp.ExitCode != 0 {
		exit = red(exit)
	}

	fmt.Fprintf(w, "Runner: %s\nScript: %s\nBench:  %s\nExit:   %s\n",
		resp.Runner, resp.Script, shortChash(resp.BenchChash), exit)
	fmt.Fprintf(w, "Time:   %s (%s)\n\n",
		resp.StartTime.Local().Format(timeLayout),
		format.New().Duration(resp.EndTime.Sub(resp.StartTime.Time)))

	writeOutputLines(w, resp.Lines)
}

func writeRuns(w io.Writer, runs []model.RunSummary) error {
	data := make([][]string, 0, len(runs))
	f := format.New()

	for _, run := range runs {
		exit := strconv.Itoa(run.ExitCode)
		if run.ExitCode != 0 {
			exit = red(exit)
		}

		data = append(data, []string{
			run.Name, run.Script, run.Runner, exit,
			f.Duration(run.EndTime.Sub(run.StartTime.Time)),
		})
	}

	return renderTable(newTable(w, []string{"Run", "Script", "Runner", "Exit", "Duration"}, tw.AlignLeft), data)
}

func writeMetricList(w io.Writer, metrics []model.MetricInfo) error {
	data := make([][]string, 0, len(metrics))

	for _, m := range metrics {
		data = append(data, []string{m.Metric, m.Unit.OrElse("")})
	}

	return renderTable(newTable(w, []string{"Metric", "Unit"}, tw.AlignLeft), data)
}

func writeAdminMetrics(w io.Writer, metrics []model.AdminMetric) error {
	data := make([][]string, 0, len(metrics))

	for _, m := range metrics {
		latest := faint("no")
		if m.AppearsInLatestCommit {
			latest = "yes"
		}

		data = append(data, []string{
			m.Metric, m.Unit.OrElse(""), latest, strconv.Itoa(m.AppearsInHistoricalCommits),
		})
	}

	return renderTable(newTable(w, []string{"Metric", "Unit", "Latest", "Commits"}, tw.AlignLeft), data)
}

// writeGraph prints one row per commit with the requested metrics as
// columns, oldest first.
func writeGraph(w io.Writer, resp *model.GraphResponse) error {
	headers := []string{"Commit", "Title"}
	for _, m := range resp.Metrics {
		headers = append(headers, m.Metric)
	}

	f := format.New()
	data := make([][]string, 0, len(resp.Chashes))

	for i, chash := range resp.Chashes {
		title := ""
		if i < len(resp.Titles) {
			title = resp.Titles[i]
		}

		row := []string{shortChash(chash), title}

		for _, m := range resp.Metrics {
			cell := ""

			if i < len(m.Measurements) {
				if v, ok := m.Measurements[i].Get(); ok {
					cell = f.Decimal(v)
				}
			}

			row = append(row, cell)
		}

		data = append(data, row)
	}

	return renderTable(newTable(w, headers, tw.AlignLeft), data)
}

func writeBotCommands(w io.Writer, commands []model.BotCommand) error {
	data := make([][]string, 0, len(commands))

	for _, c := range commands {
		state := faint("done")
		if c.Active {
			state = green("active")
		}

		data = append(data, []string{c.PR, state, c.URL})
	}

	return renderTable(newTable(w, []string{"PR", "State", "URL"}, tw.AlignLeft), data)
}

func writeIndex(w io.Writer, summaries []indexstore.CommitSummary) error {
	data := make([][]string, 0, len(summaries))

	for _, s := range summaries {
		headline := s.Headline
		if !s.Complete {
			headline = faint("pending")
		}

		data = append(data, []string{
			shortChash(s.Chash),
			s.CommittedAt.Local().Format(timeLayout),
			s.Title,
			strconv.Itoa(s.MajorCount),
			strconv.Itoa(s.MinorCount),
			headline,
		})
	}

	return renderTable(newTable(w, []string{"Commit", "Committed", "Title", "Major", "Minor", "Summary"}, tw.AlignLeft), data)
}
