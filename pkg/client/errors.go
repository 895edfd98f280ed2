package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leanprover/radar/pkg/schema"
)

// NotFoundError is returned for HTTP 404. Callers usually map it to an
// empty state rather than a failure.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fetching %s: not found", e.URL)
}

// HTTPError is returned for any other non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
	// Status is the status line text, e.g. "502 Bad Gateway".
	Status string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetching %s: %s", e.URL, e.Status)
}

// ValidationError is returned when a 2xx body does not match the expected
// schema. Diff is a unified diff of the expected and actual shapes.
type ValidationError struct {
	URL    string
	Issues []schema.Issue
	Diff   string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}

	return fmt.Sprintf("fetching %s: invalid response: %s", e.URL, strings.Join(parts, "; "))
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError

	return errors.As(err, &nf)
}
