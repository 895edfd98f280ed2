package model

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/schema"
)

// Severity is an ordered significance level. Servers report it either as a
// boolean "major" flag or as a three level "importance".
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMinor
	SeverityModerate
	SeverityMajor
)

func (s Severity) String() string {
	switch s {
	case SeverityMinor:
		return "minor"
	case SeverityModerate:
		return "moderate"
	case SeverityMajor:
		return "major"
	default:
		return "none"
	}
}

// SeverityFromMajor maps the boolean wire form.
func SeverityFromMajor(major bool) Severity {
	if major {
		return SeverityMajor
	}

	return SeverityMinor
}

// SeverityFromImportance maps the 0..2 wire form.
func SeverityFromImportance(importance int) (Severity, error) {
	switch importance {
	case 0:
		return SeverityMinor, nil
	case 1:
		return SeverityModerate, nil
	case 2:
		return SeverityMajor, nil
	default:
		return SeverityNone, fmt.Errorf("importance must be 0, 1 or 2, got %d", importance)
	}
}

// Importance is the inverse of SeverityFromImportance.
func (s Severity) Importance() int {
	switch s {
	case SeverityModerate:
		return 1
	case SeverityMajor:
		return 2
	default:
		return 0
	}
}

// Significance is the server's judgment that a run outcome or metric delta
// is noteworthy.
type Significance struct {
	Severity Severity
	Message  Message
}

// Major reports whether the significance is at the top level.
func (s Significance) Major() bool {
	return s.Severity >= SeverityMajor
}

type significanceJSON struct {
	Major      *bool   `json:"major,omitempty"`
	Importance *int    `json:"importance,omitempty"`
	Message    Message `json:"message"`
}

func (s *Significance) UnmarshalJSON(data []byte) error {
	var aux significanceJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("decoding significance: %w", err)
	}

	var sig Significance

	switch {
	case aux.Importance != nil:
		sev, err := SeverityFromImportance(*aux.Importance)
		if err != nil {
			return err
		}

		sig.Severity = sev
	case aux.Major != nil:
		sig.Severity = SeverityFromMajor(*aux.Major)
	default:
		return fmt.Errorf("decoding significance: neither major nor importance present")
	}

	sig.Message = aux.Message
	*s = sig

	return nil
}

func (s Significance) MarshalJSON() ([]byte, error) {
	major := s.Major()
	importance := s.Severity.Importance()

	return json.Marshal(significanceJSON{
		Major:      &major,
		Importance: &importance,
		Message:    s.Message,
	})
}

// CheckSchema accepts either severity form and validates the message.
func (Significance) CheckSchema(raw any, path string) []schema.Issue {
	obj, ok := raw.(map[string]any)
	if !ok {
		return []schema.Issue{schema.Mismatch(path, "significance", raw)}
	}

	var issues []schema.Issue

	importance, hasImportance := obj["importance"]
	major, hasMajor := obj["major"]

	switch {
	case hasImportance && importance != nil:
		n, ok := schema.AsInt(importance)
		if _, err := SeverityFromImportance(int(n)); !ok || err != nil {
			issues = append(issues, schema.Mismatch(schema.Field(path, "importance"), "0 | 1 | 2", importance))
		}
	case hasMajor:
		if _, ok := major.(bool); !ok {
			issues = append(issues, schema.Mismatch(schema.Field(path, "major"), "boolean", major))
		}
	default:
		issues = append(issues, schema.Issue{
			Path:     schema.Field(path, "major"),
			Expected: "boolean",
			Actual:   "missing",
		})
	}

	msgPath := schema.Field(path, "message")

	msg, present := obj["message"]
	if !present {
		return append(issues, schema.Issue{Path: msgPath, Expected: "object", Actual: "missing"})
	}

	return append(issues, schema.Check(msg, reflect.TypeOf(Message{}), msgPath)...)
}

func (Significance) DescribeSchema() string {
	return "significance"
}

// MetricComparison compares one metric between two commits.
type MetricComparison struct {
	Metric       string                       `json:"metric"`
	First        codec.Optional[float64]      `json:"first"`
	Second       codec.Optional[float64]      `json:"second"`
	FirstSource  codec.Optional[string]       `json:"firstSource"`
	SecondSource codec.Optional[string]       `json:"secondSource"`
	Unit         codec.Optional[string]       `json:"unit"`
	Direction    Direction                    `json:"direction"`
	Significance codec.Optional[Significance] `json:"significance"`
}

// HasData reports whether at least one side was measured. Comparisons
// without data render as "no data", never as a zero delta.
func (m MetricComparison) HasData() bool {
	return m.First.IsPresent() || m.Second.IsPresent()
}

// Delta returns second minus first when both sides are present.
func (m MetricComparison) Delta() (float64, bool) {
	first, ok := m.First.Get()
	if !ok {
		return 0, false
	}

	second, ok := m.Second.Get()
	if !ok {
		return 0, false
	}

	return second - first, true
}

// RunAnalysis compares the outcome of one run between two commits.
type RunAnalysis struct {
	Name         string                       `json:"name"`
	Script       string                       `json:"script"`
	Runner       string                       `json:"runner"`
	ExitCode     int                          `json:"exitCode"`
	Significance codec.Optional[Significance] `json:"significance"`
}

// CommitComparison is the full comparison of a commit pair.
type CommitComparison struct {
	Significant bool               `json:"significant"`
	Runs        []RunAnalysis      `json:"runs"`
	Metrics     []MetricComparison `json:"metrics"`
}
