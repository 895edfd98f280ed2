package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/schema"
)

// Goodness is a rendering hint attached to messages and segments.
type Goodness string

const (
	Good    Goodness = "GOOD"
	Neutral Goodness = "NEUTRAL"
	Bad     Goodness = "BAD"
)

var goodnessValues = []Goodness{Good, Neutral, Bad}

// Valid reports whether g is one of the known values.
func (g Goodness) Valid() bool {
	for _, v := range goodnessValues {
		if g == v {
			return true
		}
	}

	return false
}

func (g *Goodness) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding goodness: %w", err)
	}

	if !Goodness(s).Valid() {
		return fmt.Errorf("unknown goodness %q", s)
	}

	*g = Goodness(s)

	return nil
}

func (Goodness) CheckSchema(raw any, path string) []schema.Issue {
	if s, ok := raw.(string); ok && Goodness(s).Valid() {
		return nil
	}

	return []schema.Issue{schema.Mismatch(path, Goodness("").DescribeSchema(), raw)}
}

func (Goodness) DescribeSchema() string {
	return `"GOOD" | "NEUTRAL" | "BAD"`
}

// Direction tells whether an increasing metric is an improvement (1), a
// regression (-1) or neither (0).
type Direction int

const (
	LowerIsBetter  Direction = -1
	NoDirection    Direction = 0
	HigherIsBetter Direction = 1
)

// Valid reports whether d is one of the three literals.
func (d Direction) Valid() bool {
	return d >= LowerIsBetter && d <= HigherIsBetter
}

func (d *Direction) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding direction: %w", err)
	}

	if !Direction(n).Valid() {
		return fmt.Errorf("direction must be -1, 0 or 1, got %d", n)
	}

	*d = Direction(n)

	return nil
}

func (Direction) CheckSchema(raw any, path string) []schema.Issue {
	if n, ok := schema.AsInt(raw); ok && Direction(n).Valid() {
		return nil
	}

	return []schema.Issue{schema.Mismatch(path, Direction(0).DescribeSchema(), raw)}
}

func (Direction) DescribeSchema() string {
	return "-1 | 0 | 1"
}

// SegmentType is the discriminant of a message segment.
type SegmentType string

const (
	SegmentDelta        SegmentType = "delta"
	SegmentDeltaPercent SegmentType = "deltaPercent"
	SegmentExitCode     SegmentType = "exitCode"
	SegmentMetric       SegmentType = "metric"
	SegmentRun          SegmentType = "run"
	SegmentText         SegmentType = "text"
)

// Segment is one self-describing piece of a significance message. The set
// of implementations is closed.
type Segment interface {
	Type() SegmentType
	isSegment()
}

// DeltaSegment is an absolute change of a metric.
type DeltaSegment struct {
	Amount   float64                `json:"amount"`
	Unit     codec.Optional[string] `json:"unit"`
	Goodness Goodness               `json:"goodness"`
}

// DeltaPercentSegment is a relative change, as a factor (0.05 is 5%).
type DeltaPercentSegment struct {
	Factor   float64  `json:"factor"`
	Goodness Goodness `json:"goodness"`
}

// ExitCodeSegment is the exit code of a run.
type ExitCodeSegment struct {
	ExitCode int      `json:"exitCode"`
	Goodness Goodness `json:"goodness"`
}

// MetricSegment names a metric.
type MetricSegment struct {
	Metric string `json:"metric"`
}

// RunSegment names a run.
type RunSegment struct {
	Run string `json:"run"`
}

// TextSegment is literal text.
type TextSegment struct {
	Text string `json:"text"`
}

func (DeltaSegment) Type() SegmentType        { return SegmentDelta }
func (DeltaPercentSegment) Type() SegmentType { return SegmentDeltaPercent }
func (ExitCodeSegment) Type() SegmentType     { return SegmentExitCode }
func (MetricSegment) Type() SegmentType       { return SegmentMetric }
func (RunSegment) Type() SegmentType          { return SegmentRun }
func (TextSegment) Type() SegmentType         { return SegmentText }

func (DeltaSegment) isSegment()        {}
func (DeltaPercentSegment) isSegment() {}
func (ExitCodeSegment) isSegment()     {}
func (MetricSegment) isSegment()       {}
func (RunSegment) isSegment()          {}
func (TextSegment) isSegment()         {}

var segmentTypes = map[SegmentType]reflect.Type{
	SegmentDelta:        reflect.TypeOf(DeltaSegment{}),
	SegmentDeltaPercent: reflect.TypeOf(DeltaPercentSegment{}),
	SegmentExitCode:     reflect.TypeOf(ExitCodeSegment{}),
	SegmentMetric:       reflect.TypeOf(MetricSegment{}),
	SegmentRun:          reflect.TypeOf(RunSegment{}),
	SegmentText:         reflect.TypeOf(TextSegment{}),
}

// Segments is an ordered list of segments, tagged on the wire by a "type"
// property.
type Segments []Segment

func (s *Segments) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decoding segments: %w", err)
	}

	out := make(Segments, 0, len(items))

	for i, item := range items {
		var head struct {
			Type SegmentType `json:"type"`
		}

		if err := json.Unmarshal(item, &head); err != nil {
			return fmt.Errorf("decoding segment %d: %w", i, err)
		}

		t, ok := segmentTypes[head.Type]
		if !ok {
			return fmt.Errorf("decoding segment %d: unknown type %q", i, head.Type)
		}

		v := reflect.New(t)
		if err := json.Unmarshal(item, v.Interface()); err != nil {
			return fmt.Errorf("decoding %s segment %d: %w", head.Type, i, err)
		}

		seg, _ := v.Elem().Interface().(Segment)
		out = append(out, seg)
	}

	*s = out

	return nil
}

func (s Segments) MarshalJSON() ([]byte, error) {
	items := make([]map[string]json.RawMessage, 0, len(s))

	for _, seg := range s {
		body, err := json.Marshal(seg)
		if err != nil {
			return nil, fmt.Errorf("encoding %s segment: %w", seg.Type(), err)
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("encoding %s segment: %w", seg.Type(), err)
		}

		tag, err := json.Marshal(seg.Type())
		if err != nil {
			return nil, err
		}

		fields["type"] = tag
		items = append(items, fields)
	}

	return json.Marshal(items)
}

// CheckSchema validates every segment against the variant named by its
// "type" property.
func (Segments) CheckSchema(raw any, path string) []schema.Issue {
	arr, ok := raw.([]any)
	if !ok {
		return []schema.Issue{schema.Mismatch(path, Segments(nil).DescribeSchema(), raw)}
	}

	var issues []schema.Issue

	for i, item := range arr {
		itemPath := schema.Index(path, i)

		obj, ok := item.(map[string]any)
		if !ok {
			issues = append(issues, schema.Mismatch(itemPath, "segment", item))

			continue
		}

		tag, _ := obj["type"].(string)

		t, ok := segmentTypes[SegmentType(tag)]
		if !ok {
			issues = append(issues, schema.Issue{
				Path:     schema.Field(itemPath, "type"),
				Expected: segmentTypeLabel(),
				Actual:   describeTag(obj["type"]),
			})

			continue
		}

		issues = append(issues, schema.Check(obj, t, itemPath)...)
	}

	return issues
}

func (Segments) DescribeSchema() string {
	return "[segment]"
}

func segmentTypeLabel() string {
	names := []string{
		string(SegmentDelta), string(SegmentDeltaPercent), string(SegmentExitCode),
		string(SegmentMetric), string(SegmentRun), string(SegmentText),
	}

	return `"` + strings.Join(names, `" | "`) + `"`
}

func describeTag(raw any) string {
	if raw == nil {
		return "missing"
	}

	if s, ok := raw.(string); ok {
		return fmt.Sprintf("%q", s)
	}

	return schema.ValueLabel(raw)
}

// Message is a server-composed explanation of a significant change.
type Message struct {
	Goodness Goodness `json:"goodness"`
	Segments Segments `json:"segments"`
}
