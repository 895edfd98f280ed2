package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/queryparam"
)

// Keywords accepted by Compare in place of a chash. They resolve relative
// to the other side of the comparison.
const (
	CompareParent = "parent"
	CompareChild  = "child"
)

// DefaultHistoryLength is the number of commits the server returns when n
// is omitted.
const DefaultHistoryLength = 32

// Query parameter codecs shared with the dashboard.
var (
	HistoryN      = queryparam.Int{Name: "n", Default: DefaultHistoryLength, Min: codec.Some(0), Max: codec.Some(1000)}
	HistorySkip   = queryparam.Int{Name: "skip", Default: 0, Min: codec.Some(0)}
	HistorySearch = queryparam.NonEmptyString{Name: "s"}
	GraphN        = queryparam.Int{Name: "n", Default: DefaultHistoryLength, Min: codec.Some(0), Max: codec.Some(1000)}
	GraphMetrics  = queryparam.StringSet{Name: "m"}
)

// HistoryQuery selects a page of commit history.
type HistoryQuery struct {
	N      int
	Skip   int
	Search codec.Optional[string]
}

// DefaultHistoryQuery returns the first page with the server's default length.
func DefaultHistoryQuery() HistoryQuery {
	return HistoryQuery{N: DefaultHistoryLength}
}

// Values encodes the query, omitting defaults.
func (q HistoryQuery) Values() url.Values {
	values := url.Values{}
	HistoryN.Encode(values, q.N)
	HistorySkip.Encode(values, q.Skip)
	HistorySearch.Encode(values, q.Search)

	return values
}

// HistoryQueryFromValues decodes a history query from URL parameters.
func HistoryQueryFromValues(values url.Values) HistoryQuery {
	return HistoryQuery{
		N:      HistoryN.Decode(values),
		Skip:   HistorySkip.Decode(values),
		Search: HistorySearch.Decode(values),
	}
}

// GraphQuery selects metrics and the number of commits to plot.
type GraphQuery struct {
	N       int
	Metrics []string
}

// Values encodes the query. n is always sent because the graph endpoint
// has no default for it.
func (q GraphQuery) Values() url.Values {
	values := url.Values{}
	values.Set(GraphN.Name, strconv.Itoa(GraphN.Clamp(q.N)))
	GraphMetrics.Encode(values, q.Metrics)

	return values
}

// enc escapes a single path segment. Everything except unreserved
// characters and !*'() is percent-encoded, so reserved characters such
// as + : @ & = $ , ; never reach the server literally.
func enc(segment string) string {
	var sb strings.Builder

	sb.Grow(len(segment))

	for i := 0; i < len(segment); i++ {
		b := segment[i]
		if keepInSegment(b) {
			sb.WriteByte(b)

			continue
		}

		fmt.Fprintf(&sb, "%%%02X", b)
	}

	return sb.String()
}

func keepInSegment(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return true
	}

	return strings.IndexByte("-_.!~*'()", b) >= 0
}

func (c *client) Repos(ctx context.Context) (*model.ReposResponse, error) {
	return fetchPtr[model.ReposResponse](ctx, c, "/repos/", nil)
}

func (c *client) History(ctx context.Context, repo string, q HistoryQuery) (*model.HistoryResponse, error) {
	return fetchPtr[model.HistoryResponse](ctx, c, "/repos/"+enc(repo)+"/history/", q.Values())
}

func (c *client) Metrics(ctx context.Context, repo string) (*model.MetricsResponse, error) {
	return fetchPtr[model.MetricsResponse](ctx, c, "/repos/"+enc(repo)+"/metrics/", nil)
}

func (c *client) Graph(ctx context.Context, repo string, q GraphQuery) (*model.GraphResponse, error) {
	return fetchPtr[model.GraphResponse](ctx, c, "/repos/"+enc(repo)+"/graph/", q.Values())
}

func (c *client) GithubBot(ctx context.Context, repo string) (*model.GithubBotResponse, error) {
	return fetchPtr[model.GithubBotResponse](ctx, c, "/repos/"+enc(repo)+"/github-bot/", nil)
}

func (c *client) Commit(ctx context.Context, repo, chash string) (*model.CommitResponse, error) {
	return fetchPtr[model.CommitResponse](ctx, c, "/commits/"+enc(repo)+"/"+enc(chash)+"/", nil)
}

func (c *client) CommitRun(ctx context.Context, repo, chash, run string) (*model.CommitRunResponse, error) {
	path := "/commits/" + enc(repo) + "/" + enc(chash) + "/runs/" + enc(run) + "/"

	return fetchPtr[model.CommitRunResponse](ctx, c, path, nil)
}

// Compare compares two commits. Either side may be CompareParent or
// CompareChild.
func (c *client) Compare(ctx context.Context, repo, first, second string) (*model.CompareResponse, error) {
	path := "/compare/" + enc(repo) + "/" + enc(first) + "/" + enc(second) + "/"

	return fetchPtr[model.CompareResponse](ctx, c, path, nil)
}

func (c *client) Runs(ctx context.Context, repo, chash string) (*model.RunsResponse, error) {
	return fetchPtr[model.RunsResponse](ctx, c, "/runs/"+enc(repo)+"/"+enc(chash)+"/", nil)
}

func (c *client) Queue(ctx context.Context) (*model.QueueResponse, error) {
	return fetchPtr[model.QueueResponse](ctx, c, "/queue/", nil)
}

func (c *client) QueueRun(ctx context.Context, repo, chash, run string) (*model.QueueRunResponse, bool, error) {
	path := "/queue/runs/" + enc(repo) + "/" + enc(chash) + "/" + enc(run) + "/"

	resp, err := fetchPtr[model.QueueRunResponse](ctx, c, path, nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return resp, true, nil
}

func (c *client) AdminMetrics(ctx context.Context, repo string) (*model.AdminMetricsResponse, error) {
	return fetchPtr[model.AdminMetricsResponse](ctx, c, "/admin/repos/"+enc(repo)+"/metrics/", nil)
}

func (c *client) Enqueue(ctx context.Context, token string, req model.EnqueueRequest) error {
	return c.PostAdmin(ctx, "/admin/enqueue", token, req)
}

func (c *client) Maintain(ctx context.Context, token string, req model.MaintainRequest) error {
	return c.PostAdmin(ctx, "/admin/maintain/", token, req)
}

func (c *client) RecomputeSignificance(ctx context.Context, token, repo string) error {
	return c.PostAdmin(ctx, "/admin/recompute-significance/", token, model.RepoRequest{Repo: repo})
}

func (c *client) Vacuum(ctx context.Context, token, repo string) error {
	return c.PostAdmin(ctx, "/admin/vacuum/", token, model.RepoRequest{Repo: repo})
}

func (c *client) DeleteMetrics(ctx context.Context, token, repo string, metrics []string) error {
	if metrics == nil {
		metrics = []string{}
	}

	return c.PostAdmin(ctx, "/admin/repos/"+enc(repo)+"/metrics/delete/", token,
		model.DeleteMetricsRequest{Metrics: metrics})
}

func (c *client) RenameMetrics(ctx context.Context, token, repo string, renames map[string]string) error {
	if renames == nil {
		renames = map[string]string{}
	}

	return c.PostAdmin(ctx, "/admin/repos/"+enc(repo)+"/metrics/rename/", token,
		model.RenameMetricsRequest{Metrics: renames})
}

func fetchPtr[T any](ctx context.Context, c Client, path string, params url.Values) (*T, error) {
	v, err := Fetch[T](ctx, c, path, params)
	if err != nil {
		return nil, err
	}

	return &v, nil
}
