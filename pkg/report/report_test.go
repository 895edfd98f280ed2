package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/significance"
)

func newLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func significant(sev model.Severity, msg model.Message) codec.Optional[model.Significance] {
	return codec.Some(model.Significance{Severity: sev, Message: msg})
}

func sampleResponse() *model.CompareResponse {
	failed := significance.NewMessage().
		SetGoodness(model.Bad).
		AddRun("build").
		AddText(" failed with ").
		AddExitCode(1).
		Build()

	faster := significance.NewMessage().
		SetGoodness(model.Good).
		AddMetric("instructions").
		AddText(": ").
		AddDeltaAndDeltaPercent(100, 90, "", model.LowerIsBetter).
		Build()

	return &model.CompareResponse{
		ChashFirst:  codec.Some("aaa"),
		ChashSecond: codec.Some("bbb"),
		Comparison: model.CommitComparison{
			Significant: true,
			Runs: []model.RunAnalysis{
				{Name: "build", Script: "build.sh", Runner: "r1", ExitCode: 1,
					Significance: significant(model.SeverityMajor, failed)},
			},
			Metrics: []model.MetricComparison{
				{Metric: "instructions", First: codec.Some(100.0), Second: codec.Some(90.0),
					Direction: model.LowerIsBetter, Significance: significant(model.SeverityMinor, faster)},
				{Metric: "size", Second: codec.Some(2048.0), Unit: codec.Some("B")},
				{Metric: "unmeasured"},
			},
		},
	}
}

func TestMarkdown(t *testing.T) {
	got := Markdown(Document{
		Repo:     "lean4",
		First:    "parent",
		Second:   "bbb",
		Response: sampleResponse(),
		Link:     "https://radar.example.com/compare",
	})

	expected := strings.Join([]string{
		"# Benchmark comparison: lean4",
		"",
		"Comparing `bbb` against `aaa`. [View on radar](https://radar.example.com/compare)",
		"",
		"**Run changes (1🟥)**",
		"",
		"- 🟥 `build` failed with **1**",
		"",
		"**Minor changes (1✅)**",
		"",
		"- ✅ `instructions`: **-10.0** (**-10.0%**)",
		"",
		"## Runs",
		"",
		"| Run | Script | Runner | Exit Code |",
		"|---|---|---|---|",
		"| `build` | build.sh | r1 | 1 |",
		"",
		"## Metrics",
		"",
		"| Metric | First | Second | Change |",
		"|---|---:|---:|---:|",
		"| `instructions` | 100.0 | 90.0 | -10.0 (-10.0%) |",
		"| `size` | n/a | 2kiB |  |",
		"| `unmeasured` | n/a | n/a | no data |",
		"",
	}, "\n")

	assert.Equal(t, expected, got)
}

func TestMarkdown_NoChanges(t *testing.T) {
	got := Markdown(Document{Repo: "lean4", First: "aaa", Second: "bbb"})

	assert.Equal(t, "# Benchmark comparison: lean4\n\n"+
		"Comparing `bbb` against `aaa`.\n\n"+
		"No significant changes detected.\n", got)
}

func TestWriteSection_Counters(t *testing.T) {
	good := significance.NewMessage().SetGoodness(model.Good).AddText("g").Build()
	bad := significance.NewMessage().SetGoodness(model.Bad).AddText("b").Build()
	neutral := significance.NewMessage().AddText("n").Build()

	var sb strings.Builder
	writeSection(&sb, "Major changes", []model.Message{good, neutral, bad, good, neutral, neutral})

	assert.True(t, strings.HasPrefix(sb.String(), "\n\n**Major changes (2✅, 1🟥, 3)**\n"), sb.String())
	assert.Contains(t, sb.String(), "\n- n")
}

func TestWriteSection_TooManyEntries(t *testing.T) {
	messages := make([]model.Message, maxSectionEntries+1)
	for i := range messages {
		messages[i] = significance.NewMessage().AddText("entry").Build()
	}

	var sb strings.Builder
	writeSection(&sb, "Minor changes", messages)

	assert.Equal(t, "\n\n**Minor changes (21)**\n\n"+
		"Too many entries to display here. View the full report on radar instead.", sb.String())
}

func TestWriteMessage(t *testing.T) {
	msg := significance.NewMessage().
		AddMetric("a|b").
		AddText(" took ").
		AddDelta(90, "s", model.Neutral).
		Build()

	var sb strings.Builder
	WriteMessage(&sb, msg)

	assert.Equal(t, "`a|b` took **+1m 30s**", sb.String())
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name                string
		repo, first, second string
		want                string
	}{
		{name: "plain", repo: "lean4", first: "aaa", second: "bbb", want: "lean4/aaa..bbb.md"},
		{name: "slashes", repo: "org/repo", first: "parent", second: "bbb", want: "org_repo/parent..bbb.md"},
		{name: "traversal", repo: "..", first: "a", second: "b", want: "_/a..b.md"},
		{name: "empty", repo: "", first: "a", second: "b", want: "_/a..b.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.repo, tt.first, tt.second))
		})
	}
}

func TestLocalSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewLocalSink(newLogger(), dir)

	location, err := sink.Write(context.Background(), "lean4/aaa..bbb.md", []byte("# report\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lean4", "aaa..bbb.md"), location)

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "# report\n", string(data))

	location, err = sink.Write(context.Background(), "../../escape.md", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.md"), location, "names cannot leave the directory")

	entries, err := os.ReadDir(filepath.Join(dir, "lean4"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestLocalSink_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalSink(newLogger(), t.TempDir()).Write(ctx, "a.md", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		file   string
		want   string
	}{
		{name: "default prefix", file: "lean4/a..b.md", want: "reports/lean4/a..b.md"},
		{name: "custom prefix", prefix: "radar/reports", file: "lean4/a..b.md", want: "radar/reports/lean4/a..b.md"},
		{name: "trailing slash stripped", prefix: "radar/", file: "x.md", want: "radar/x.md"},
		{name: "leading slash stripped", prefix: "radar", file: "/x.md", want: "radar/x.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &s3Sink{cfg: &config.S3ReportConfig{Prefix: tt.prefix}}
			assert.Equal(t, tt.want, s.resolveKey(tt.file))
		})
	}
}

func TestS3Sink_PutObject(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)

		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(data)
		mu.Unlock()

		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sink := NewS3Sink(newLogger(), &config.S3ReportConfig{
		Enabled:         true,
		EndpointURL:     srv.URL,
		Bucket:          "bench",
		Prefix:          "radar",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		ForcePathStyle:  true,
	})

	location, err := sink.Write(context.Background(), "lean4/aaa..bbb.md", []byte("# report\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3://bench/radar/lean4/aaa..bbb.md", location)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/bench/radar/lean4/aaa..bbb.md", path)
	assert.Contains(t, body, "# report")
}

func TestNewSink(t *testing.T) {
	_, err := NewSink(newLogger(), &config.ReportConfig{})
	require.EqualError(t, err, "no report sink configured")

	sink, err := NewSink(newLogger(), &config.ReportConfig{
		Local: &config.LocalReportConfig{Enabled: true, Dir: t.TempDir()},
	})
	require.NoError(t, err)
	assert.IsType(t, &localSink{}, sink)

	sink, err = NewSink(newLogger(), &config.ReportConfig{
		Local: &config.LocalReportConfig{Enabled: true, Dir: t.TempDir()},
		S3:    &config.S3ReportConfig{Enabled: true, Bucket: "b"},
	})
	require.NoError(t, err)
	assert.IsType(t, &s3Sink{}, sink)
}
