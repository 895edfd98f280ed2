// Package report renders commit comparisons as Markdown and stores them.
package report

import (
	"fmt"
	"strings"

	"github.com/leanprover/radar/pkg/format"
	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/significance"
)

// Goodness markers used in headings and list items.
const (
	EmojiGood = "✅"
	EmojiBad  = "🟥"
)

const (
	// maxSectionEntries is the largest message list rendered inline.
	maxSectionEntries = 20

	// maxTableRows caps the metric table.
	maxTableRows = 100

	noData = "no data"
)

// Document is a comparison to render.
type Document struct {
	Repo string
	// First and Second are the requested sides, possibly parent or child
	// keywords. The resolved chashes of Response take precedence.
	First    string
	Second   string
	Response *model.CompareResponse
	// Link is an optional URL of the comparison on a radar instance.
	Link string
}

// ResolvedFirst returns the first chash, resolved by the server if possible.
func (d Document) ResolvedFirst() string {
	if d.Response == nil {
		return d.First
	}

	return d.Response.ChashFirst.OrElse(d.First)
}

// ResolvedSecond returns the second chash, resolved by the server if
// possible.
func (d Document) ResolvedSecond() string {
	if d.Response == nil {
		return d.Second
	}

	return d.Response.ChashSecond.OrElse(d.Second)
}

// Markdown renders doc as a Markdown report.
func Markdown(doc Document) string {
	var sb strings.Builder

	sb.Grow(4096)

	fmt.Fprintf(&sb, "# Benchmark comparison: %s\n\n", doc.Repo)
	fmt.Fprintf(&sb, "Comparing `%s` against `%s`.", doc.ResolvedSecond(), doc.ResolvedFirst())

	if doc.Link != "" {
		fmt.Fprintf(&sb, " [View on radar](%s)", doc.Link)
	}

	var comparison *model.CommitComparison
	if doc.Response != nil {
		comparison = &doc.Response.Comparison
	}

	WriteBody(&sb, significance.Classify(comparison))

	if comparison != nil {
		writeRuns(&sb, comparison.Runs)
		writeMetrics(&sb, comparison.Metrics)
	}

	sb.WriteByte('\n')

	return sb.String()
}

// WriteBody appends the significance sections of summary, or a note that
// nothing changed.
func WriteBody(sb *strings.Builder, summary significance.Summary) {
	writeSection(sb, "Run changes", summary.RunMessages)
	writeSection(sb, "Major changes", summary.MajorMetricMessages)
	writeSection(sb, "Minor changes", summary.MinorMetricMessages)

	if summary.Empty() {
		sb.WriteString("\n\nNo significant changes detected.")
	}
}

func writeSection(sb *strings.Builder, title string, messages []model.Message) {
	if len(messages) == 0 {
		return
	}

	sb.WriteString("\n\n**")
	sb.WriteString(title)
	sb.WriteString(" (")
	writeCounters(sb, messages)
	sb.WriteString(")**")

	if len(messages) > maxSectionEntries {
		sb.WriteString("\n\nToo many entries to display here. View the full report on radar instead.")

		return
	}

	sb.WriteByte('\n')

	for _, msg := range messages {
		sb.WriteString("\n- ")
		WriteMessage(sb, msg)
	}
}

// writeCounters writes e.g. "2✅, 1🟥, 3", skipping empty groups.
func writeCounters(sb *strings.Builder, messages []model.Message) {
	good, bad, neutral := significance.Count(messages)

	parts := make([]string, 0, 3)

	if good > 0 {
		parts = append(parts, fmt.Sprintf("%d%s", good, EmojiGood))
	}

	if bad > 0 {
		parts = append(parts, fmt.Sprintf("%d%s", bad, EmojiBad))
	}

	if neutral > 0 {
		parts = append(parts, fmt.Sprintf("%d", neutral))
	}

	sb.WriteString(strings.Join(parts, ", "))
}

// WriteMessage appends msg as Markdown: a goodness marker followed by the
// segments, with changes in bold and names in code spans.
func WriteMessage(sb *strings.Builder, msg model.Message) {
	switch msg.Goodness {
	case model.Good:
		sb.WriteString(EmojiGood + " ")
	case model.Bad:
		sb.WriteString(EmojiBad + " ")
	}

	for _, span := range significance.Render(msg, format.New()).Spans {
		switch span.Kind {
		case model.SegmentDelta, model.SegmentDeltaPercent, model.SegmentExitCode:
			sb.WriteString("**" + span.Text + "**")
		case model.SegmentMetric, model.SegmentRun:
			sb.WriteString("`" + span.Text + "`")
		default:
			sb.WriteString(span.Text)
		}
	}
}

func writeRuns(sb *strings.Builder, runs []model.RunAnalysis) {
	if len(runs) == 0 {
		return
	}

	sb.WriteString("\n\n## Runs\n\n")
	sb.WriteString("| Run | Script | Runner | Exit Code |\n")
	sb.WriteString("|---|---|---|---|")

	for _, run := range runs {
		fmt.Fprintf(sb, "\n| `%s` | %s | %s | %d |",
			escapeCell(run.Name), escapeCell(run.Script), escapeCell(run.Runner), run.ExitCode)
	}
}

func writeMetrics(sb *strings.Builder, metrics []model.MetricComparison) {
	rows := metrics
	if len(rows) == 0 {
		return
	}

	sb.WriteString("\n\n## Metrics\n\n")
	sb.WriteString("| Metric | First | Second | Change |\n")
	sb.WriteString("|---|---:|---:|---:|")

	f := format.New()

	for i, m := range rows {
		if i == maxTableRows {
			fmt.Fprintf(sb, "\n\n_and %d more metrics_", len(rows)-maxTableRows)

			break
		}

		unit := m.Unit.OrElse("")

		fmt.Fprintf(sb, "\n| `%s` | %s | %s | %s |",
			escapeCell(m.Metric),
			formatSide(f, m.First.Ptr(), unit),
			formatSide(f, m.Second.Ptr(), unit),
			formatChange(f, m, unit),
		)
	}
}

func formatSide(f format.Formatter, v *float64, unit string) string {
	if v == nil {
		return "n/a"
	}

	return f.ValueWithUnit(*v, unit)
}

// formatChange renders the signed delta and, when first is non-zero, the
// relative change.
func formatChange(f format.Formatter, m model.MetricComparison, unit string) string {
	if !m.HasData() {
		return noData
	}

	delta, ok := m.Delta()
	if !ok {
		return ""
	}

	signed := f.WithSign(true)
	out := signed.ValueWithUnit(delta, unit)

	if first, _ := m.First.Get(); first != 0 {
		out += " (" + signed.Value(delta/first, format.UnitFraction) + ")"
	}

	return out
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
