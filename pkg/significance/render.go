package significance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leanprover/radar/pkg/format"
	"github.com/leanprover/radar/pkg/model"
)

// Span is the rendered text of one segment.
type Span struct {
	Kind     model.SegmentType `json:"kind"`
	Text     string            `json:"text"`
	Goodness model.Goodness    `json:"goodness"`
}

// Rendered is a message turned into text spans.
type Rendered struct {
	Goodness model.Goodness `json:"goodness"`
	Spans    []Span         `json:"spans"`
}

// String joins the spans without styling.
func (r Rendered) String() string {
	var b strings.Builder

	for _, span := range r.Spans {
		b.WriteString(span.Text)
	}

	return b.String()
}

// Render formats every segment of msg. Changes are always signed; f
// controls precision and alignment.
func Render(msg model.Message, f format.Formatter) Rendered {
	signed := f.WithSign(true)

	rendered := Rendered{
		Goodness: msg.Goodness,
		Spans:    make([]Span, 0, len(msg.Segments)),
	}

	for _, seg := range msg.Segments {
		span := Span{Kind: seg.Type(), Goodness: model.Neutral}

		switch s := seg.(type) {
		case model.DeltaSegment:
			span.Text = signed.ValueWithUnit(s.Amount, s.Unit.OrElse(""))
			span.Goodness = s.Goodness
		case model.DeltaPercentSegment:
			span.Text = signed.Value(s.Factor, format.UnitFraction)
			span.Goodness = s.Goodness
		case model.ExitCodeSegment:
			span.Text = strconv.Itoa(s.ExitCode)
			span.Goodness = s.Goodness
		case model.MetricSegment:
			span.Text = s.Metric
		case model.RunSegment:
			span.Text = s.Run
		case model.TextSegment:
			span.Text = s.Text
		default:
			panic(fmt.Sprintf("unhandled segment type %T", seg))
		}

		rendered.Spans = append(rendered.Spans, span)
	}

	return rendered
}

// RenderAll renders msgs in order.
func RenderAll(msgs []model.Message, f format.Formatter) []Rendered {
	out := make([]Rendered, 0, len(msgs))

	for _, msg := range msgs {
		out = append(out, Render(msg, f))
	}

	return out
}
