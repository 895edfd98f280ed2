package significance

import (
	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/model"
)

// MessageBuilder composes a message segment by segment.
type MessageBuilder struct {
	goodness model.Goodness
	segments model.Segments
}

// NewMessage starts a neutral message.
func NewMessage() *MessageBuilder {
	return &MessageBuilder{goodness: model.Neutral, segments: model.Segments{}}
}

func (b *MessageBuilder) SetGoodness(g model.Goodness) *MessageBuilder {
	b.goodness = g

	return b
}

func (b *MessageBuilder) Add(segment model.Segment) *MessageBuilder {
	b.segments = append(b.segments, segment)

	return b
}

// AddDelta adds an absolute change. An empty unit is omitted.
func (b *MessageBuilder) AddDelta(amount float64, unit string, g model.Goodness) *MessageBuilder {
	seg := model.DeltaSegment{Amount: amount, Goodness: g}
	if unit != "" {
		seg.Unit = codec.Some(unit)
	}

	return b.Add(seg)
}

// AddGradedDelta adds an absolute change graded against dir.
func (b *MessageBuilder) AddGradedDelta(amount float64, unit string, dir model.Direction) *MessageBuilder {
	return b.AddDelta(amount, unit, Grade(amount, dir))
}

func (b *MessageBuilder) AddDeltaPercent(factor float64, g model.Goodness) *MessageBuilder {
	return b.Add(model.DeltaPercentSegment{Factor: factor, Goodness: g})
}

// AddDeltaAndDeltaPercent adds the change from first to second followed by
// the relative change in parentheses. The relative part is left out when
// first is zero.
func (b *MessageBuilder) AddDeltaAndDeltaPercent(first, second float64, unit string, dir model.Direction) *MessageBuilder {
	delta := second - first
	b.AddGradedDelta(delta, unit, dir)

	if first != 0 {
		b.AddText(" (")
		b.AddDeltaPercent(delta/first, Grade(delta, dir))
		b.AddText(")")
	}

	return b
}

// AddExitCode adds an exit code, good when zero.
func (b *MessageBuilder) AddExitCode(exitCode int) *MessageBuilder {
	g := model.Bad
	if exitCode == 0 {
		g = model.Good
	}

	return b.Add(model.ExitCodeSegment{ExitCode: exitCode, Goodness: g})
}

func (b *MessageBuilder) AddMetric(metric string) *MessageBuilder {
	return b.Add(model.MetricSegment{Metric: metric})
}

func (b *MessageBuilder) AddRun(run string) *MessageBuilder {
	return b.Add(model.RunSegment{Run: run})
}

func (b *MessageBuilder) AddText(text string) *MessageBuilder {
	return b.Add(model.TextSegment{Text: text})
}

// Build returns the message. The builder may be reused afterwards.
func (b *MessageBuilder) Build() model.Message {
	segments := make(model.Segments, len(b.segments))
	copy(segments, b.segments)

	return model.Message{Goodness: b.goodness, Segments: segments}
}
