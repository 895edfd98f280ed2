// Package significance summarizes the significance data of a commit
// comparison and renders its messages.
package significance

import (
	"github.com/leanprover/radar/pkg/model"
)

// Summary partitions the significant entries of a comparison.
type Summary struct {
	MajorCount          int             `json:"majorCount"`
	MinorCount          int             `json:"minorCount"`
	RunMessages         []model.Message `json:"runMessages"`
	MajorMetricMessages []model.Message `json:"majorMetricMessages"`
	MinorMetricMessages []model.Message `json:"minorMetricMessages"`
}

// Empty reports whether nothing in the comparison was significant.
func (s Summary) Empty() bool {
	return s.MajorCount == 0 && s.MinorCount == 0
}

// Classify summarizes c with SeverityMajor as the major threshold. A nil
// comparison yields an empty summary.
func Classify(c *model.CommitComparison) Summary {
	return ClassifyAt(c, model.SeverityMajor)
}

// ClassifyAt summarizes c, counting every significance at or above
// threshold as major and every other one as minor. Entries without a
// significance are skipped. Message order follows the input.
func ClassifyAt(c *model.CommitComparison, threshold model.Severity) Summary {
	summary := Summary{
		RunMessages:         []model.Message{},
		MajorMetricMessages: []model.Message{},
		MinorMetricMessages: []model.Message{},
	}

	if c == nil {
		return summary
	}

	count := func(sig model.Significance) bool {
		major := sig.Severity >= threshold
		if major {
			summary.MajorCount++
		} else {
			summary.MinorCount++
		}

		return major
	}

	for _, run := range c.Runs {
		sig, ok := run.Significance.Get()
		if !ok {
			continue
		}

		count(sig)
		summary.RunMessages = append(summary.RunMessages, sig.Message)
	}

	for _, metric := range c.Metrics {
		sig, ok := metric.Significance.Get()
		if !ok {
			continue
		}

		if count(sig) {
			summary.MajorMetricMessages = append(summary.MajorMetricMessages, sig.Message)
		} else {
			summary.MinorMetricMessages = append(summary.MinorMetricMessages, sig.Message)
		}
	}

	return summary
}

// Grade judges a change against a metric's direction: good when the delta
// moves the way the direction prefers, bad when it moves the other way,
// neutral when either is zero.
func Grade(delta float64, dir model.Direction) model.Goodness {
	if delta == 0 || dir == model.NoDirection {
		return model.Neutral
	}

	if (delta > 0) == (dir > 0) {
		return model.Good
	}

	return model.Bad
}

// GradePair grades the change from before to after.
func GradePair(before, after float64, dir model.Direction) model.Goodness {
	return Grade(after-before, dir)
}

// Count tallies messages by goodness.
func Count(messages []model.Message) (good, bad, neutral int) {
	for _, msg := range messages {
		switch msg.Goodness {
		case model.Good:
			good++
		case model.Bad:
			bad++
		default:
			neutral++
		}
	}

	return good, bad, neutral
}
