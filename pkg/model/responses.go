package model

import "github.com/leanprover/radar/pkg/codec"

// ReposResponse is served by /repos/.
type ReposResponse struct {
	Repos []Repo `json:"repos"`
}

// HistoryResponse is served by /repos/{repo}/history/.
type HistoryResponse struct {
	Commits []Commit `json:"commits"`
}

// MetricInfo names a metric known for a repo.
type MetricInfo struct {
	Metric string                 `json:"metric"`
	Unit   codec.Optional[string] `json:"unit"`
}

// MetricsResponse is served by /repos/{repo}/metrics/.
type MetricsResponse struct {
	Metrics []MetricInfo `json:"metrics"`
}

// GraphMetric is the time series of one metric. Measurements line up with
// GraphResponse.Chashes; commits without a value hold an absent entry.
type GraphMetric struct {
	Metric       string                    `json:"metric"`
	Direction    Direction                 `json:"direction"`
	Measurements []codec.Optional[float64] `json:"measurements"`
}

// GraphResponse is served by /repos/{repo}/graph/.
type GraphResponse struct {
	Chashes []string      `json:"chashes"`
	Titles  []string      `json:"titles"`
	Metrics []GraphMetric `json:"metrics"`
}

// BotCommand is a benchmark command issued through the GitHub bot.
type BotCommand struct {
	PR       string                 `json:"pr"`
	URL      string                 `json:"url"`
	ReplyURL codec.Optional[string] `json:"replyUrl"`
	Active   bool                   `json:"active"`
}

// GithubBotResponse is served by /repos/{repo}/github-bot/.
type GithubBotResponse struct {
	Commands []BotCommand `json:"commands"`
}

// CommitResponse is served by /commits/{repo}/{chash}/.
type CommitResponse struct {
	Commit
	Parents  []LinkedCommit `json:"parents"`
	Children []LinkedCommit `json:"children"`
	Runs     []Run          `json:"runs"`
}

// CommitRunResponse is served by /commits/{repo}/{chash}/runs/{run}/.
type CommitRunResponse struct {
	Runner          string                          `json:"runner"`
	Script          string                          `json:"script"`
	BenchChash      string                          `json:"benchChash"`
	StartTime       codec.Timestamp                 `json:"startTime"`
	EndTime         codec.Timestamp                 `json:"endTime"`
	ScriptStartTime codec.Optional[codec.Timestamp] `json:"scriptStartTime"`
	ScriptEndTime   codec.Optional[codec.Timestamp] `json:"scriptEndTime"`
	ExitCode        int                             `json:"exitCode"`
	Lines           []OutputLine                    `json:"lines"`
}

// CompareResponse is served by /compare/{repo}/{first}/{second}/. The
// chashes are resolved when parent or child keywords were requested.
type CompareResponse struct {
	ChashFirst  codec.Optional[string] `json:"chashFirst"`
	ChashSecond codec.Optional[string] `json:"chashSecond"`
	Comparison  CommitComparison       `json:"comparison"`
}

// RunSummary is a finished run as listed by /runs/{repo}/{chash}/.
type RunSummary struct {
	Name       string          `json:"name"`
	Script     string          `json:"script"`
	Runner     string          `json:"runner"`
	BenchChash string          `json:"benchChash"`
	StartTime  codec.Timestamp `json:"startTime"`
	EndTime    codec.Timestamp `json:"endTime"`
	ExitCode   int             `json:"exitCode"`
}

// RunsResponse is served by /runs/{repo}/{chash}/.
type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

// Runner is a bench runner known to the server.
type Runner struct {
	Name      string                          `json:"name"`
	Connected bool                            `json:"connected"`
	LastSeen  codec.Optional[codec.Timestamp] `json:"lastSeen"`
}

// Task is a queued commit with its runs.
type Task struct {
	Repo  string `json:"repo"`
	Chash string `json:"chash"`
	Title string `json:"title"`
	Runs  []Run  `json:"runs"`
}

// QueueResponse is served by /queue/.
type QueueResponse struct {
	Runners []Runner `json:"runners"`
	Tasks   []Task   `json:"tasks"`
}

// OutputBatch is a window of output lines. Start is the index of the first
// line within the full output.
type OutputBatch struct {
	Lines []OutputLine `json:"lines"`
	Start int          `json:"start"`
}

// QueueActiveRun is the live state of a running queued run.
type QueueActiveRun struct {
	BenchChash string          `json:"benchChash"`
	StartTime  codec.Timestamp `json:"startTime"`
	Lines      OutputBatch     `json:"lines"`
}

// QueueRunResponse is served by /queue/runs/{repo}/{chash}/{run}/.
type QueueRunResponse struct {
	Runner    string                         `json:"runner"`
	Script    string                         `json:"script"`
	ActiveRun codec.Optional[QueueActiveRun] `json:"activeRun"`
}

// AdminMetric is a metric with usage statistics.
type AdminMetric struct {
	Metric                     string                 `json:"metric"`
	Unit                       codec.Optional[string] `json:"unit"`
	AppearsInLatestCommit      bool                   `json:"appearsInLatestCommit"`
	AppearsInHistoricalCommits int                    `json:"appearsInHistoricalCommits"`
}

// AdminMetricsResponse is served by /admin/repos/{repo}/metrics/.
type AdminMetricsResponse struct {
	Metrics []AdminMetric `json:"metrics"`
}

// EnqueueRequest is posted to /admin/enqueue.
type EnqueueRequest struct {
	Repo     string `json:"repo"`
	Chash    string `json:"chash"`
	Priority *int   `json:"priority,omitempty"`
}

// MaintainRequest is posted to /admin/maintain/.
type MaintainRequest struct {
	Repo       string `json:"repo"`
	Aggressive bool   `json:"aggressive"`
}

// RepoRequest is posted to /admin/recompute-significance/ and /admin/vacuum/.
type RepoRequest struct {
	Repo string `json:"repo"`
}

// DeleteMetricsRequest is posted to /admin/repos/{repo}/metrics/delete/.
type DeleteMetricsRequest struct {
	Metrics []string `json:"metrics"`
}

// RenameMetricsRequest is posted to /admin/repos/{repo}/metrics/rename/,
// mapping old metric names to new ones.
type RenameMetricsRequest struct {
	Metrics map[string]string `json:"metrics"`
}
