// Package model holds the typed payloads served by the radar API.
//
// Every type decodes through schema.Decode: fields without a nullable type
// are required, codec.Optional fields accept a missing key or null.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/schema"
)

// Repo is a tracked source repository.
type Repo struct {
	Name              string                 `json:"name"`
	URL               string                 `json:"url"`
	BenchURL          string                 `json:"benchUrl"`
	Description       string                 `json:"description"`
	LakeprofReportURL codec.Optional[string] `json:"lakeprofReportUrl"`
}

// CommitIdent identifies the author or committer of a commit.
type CommitIdent struct {
	Name  string          `json:"name"`
	Email string          `json:"email"`
	Time  codec.Timestamp `json:"time"`
	// Offset from UTC in minutes.
	Offset int `json:"offset"`
}

// Commit is a single commit of a repo, identified by its chash.
type Commit struct {
	Chash     string                 `json:"chash"`
	Author    CommitIdent            `json:"author"`
	Committer CommitIdent            `json:"committer"`
	Title     string                 `json:"title"`
	Body      codec.Optional[string] `json:"body"`
}

// LinkedCommit references a parent or child commit. Tracked reports whether
// the server holds a record for it.
type LinkedCommit struct {
	Chash   string `json:"chash"`
	Title   string `json:"title"`
	Tracked bool   `json:"tracked"`
}

// RunState is the lifecycle state of a Run.
type RunState int

const (
	RunPending RunState = iota
	RunActive
	RunFinished
)

func (s RunState) String() string {
	switch s {
	case RunActive:
		return "active"
	case RunFinished:
		return "finished"
	default:
		return "pending"
	}
}

// RunStart describes a run that has started but not finished.
type RunStart struct {
	StartTime codec.Timestamp `json:"startTime"`
}

// RunResult describes a finished run.
type RunResult struct {
	StartTime codec.Timestamp `json:"startTime"`
	EndTime   codec.Timestamp `json:"endTime"`
	ExitCode  int             `json:"exitCode"`
}

// Run is one execution of a bench script for a commit.
type Run struct {
	Name     string                    `json:"name"`
	Script   string                    `json:"script"`
	Runner   string                    `json:"runner"`
	Active   codec.Optional[RunStart]  `json:"active"`
	Finished codec.Optional[RunResult] `json:"finished"`
}

// State returns the run's state. A finished result wins over an active
// marker if the server reports both.
func (r Run) State() RunState {
	switch {
	case r.Finished.IsPresent():
		return RunFinished
	case r.Active.IsPresent():
		return RunActive
	default:
		return RunPending
	}
}

// OutputLine is one captured line of process output. It travels as a
// [time, source, line] tuple.
type OutputLine struct {
	Time   codec.Timestamp
	Source int
	Line   string
}

func (l *OutputLine) UnmarshalJSON(data []byte) error {
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("decoding output line: %w", err)
	}

	var line OutputLine

	if err := json.Unmarshal(tuple[0], &line.Time); err != nil {
		return err
	}

	if err := json.Unmarshal(tuple[1], &line.Source); err != nil {
		return fmt.Errorf("decoding output line source: %w", err)
	}

	if err := json.Unmarshal(tuple[2], &line.Line); err != nil {
		return fmt.Errorf("decoding output line text: %w", err)
	}

	*l = line

	return nil
}

func (l OutputLine) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.Time, l.Source, l.Line})
}

// CheckSchema requires a three element tuple.
func (OutputLine) CheckSchema(raw any, path string) []schema.Issue {
	tuple, ok := raw.([]any)
	if !ok || len(tuple) != 3 {
		return []schema.Issue{schema.Mismatch(path, outputLineLabel, raw)}
	}

	issues := codec.Timestamp{}.CheckSchema(tuple[0], schema.Index(path, 0))

	if _, ok := schema.AsInt(tuple[1]); !ok {
		issues = append(issues, schema.Mismatch(schema.Index(path, 1), "integer", tuple[1]))
	}

	if _, ok := tuple[2].(string); !ok {
		issues = append(issues, schema.Mismatch(schema.Index(path, 2), "string", tuple[2]))
	}

	return issues
}

func (OutputLine) DescribeSchema() string {
	return outputLineLabel
}

const outputLineLabel = "[timestamp, integer, string]"
