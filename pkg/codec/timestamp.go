// Package codec decodes the primitive wire conventions used by the radar
// API: fractional epoch-second timestamps and nullable fields.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/leanprover/radar/pkg/schema"
)

// FromEpochSeconds converts fractional seconds since the Unix epoch into an
// instant, rounded to the nearest millisecond.
func FromEpochSeconds(seconds float64) time.Time {
	return time.UnixMilli(int64(math.Round(seconds * 1000))).UTC()
}

// ToEpochSeconds is the inverse of FromEpochSeconds at millisecond precision.
func ToEpochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// Timestamp is an instant transported as fractional epoch seconds.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, truncated to millisecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: time.UnixMilli(t.UnixMilli()).UTC()}
}

// UnmarshalJSON decodes a JSON number of epoch seconds.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("decoding timestamp: %w", err)
	}

	t.Time = FromEpochSeconds(seconds)

	return nil
}

// MarshalJSON encodes the instant as epoch seconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToEpochSeconds(t.Time))
}

// CheckSchema accepts any JSON number.
func (Timestamp) CheckSchema(raw any, path string) []schema.Issue {
	if _, ok := schema.AsNumber(raw); !ok {
		return []schema.Issue{schema.Mismatch(path, "timestamp", raw)}
	}

	return nil
}

func (Timestamp) DescribeSchema() string {
	return "timestamp"
}
