package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// Parse reads back a string produced by Formatter.Value or ValueWithUnit.
// The result is only as precise as the rendered string.
func Parse(s, unit string) (float64, error) {
	raw := strings.TrimSpace(s)
	text := raw
	negative := false

	switch {
	case strings.HasPrefix(text, "-"):
		negative = true
		text = text[1:]
	case strings.HasPrefix(text, "+"):
		text = text[1:]
	}

	var (
		v   float64
		err error
	)

	switch unit {
	case UnitSeconds:
		v, err = parseDuration(text)
	case UnitBytes:
		var n int64

		n, err = units.RAMInBytes(strings.ReplaceAll(text, " ", ""))
		v = float64(n)
	case UnitPercent:
		v, err = strconv.ParseFloat(strings.TrimSuffix(text, "%"), 64)
	case UnitFraction:
		v, err = strconv.ParseFloat(strings.TrimSuffix(text, "%"), 64)
		v /= 100
	default:
		if unit != "" {
			text = strings.TrimSuffix(text, unit)
		}

		v, err = parseDecimal(strings.TrimSpace(text))
	}

	if err != nil {
		return 0, fmt.Errorf("parsing %q as %q: %w", raw, unit, err)
	}

	if negative {
		v = -v
	}

	return v, nil
}

// parseDecimal handles SI prefixes. go-units covers kilo through peta;
// exa and the sub-unit prefixes are scaled here.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}

	for _, p := range decimalPrefixes {
		if p.symbol == "" || !strings.HasSuffix(s, p.symbol) {
			continue
		}

		number := strings.TrimSuffix(s, p.symbol)

		switch p.symbol {
		case "k", "M", "G", "T", "P":
			n, err := units.FromHumanSize(number + p.symbol)
			if err != nil {
				return 0, err
			}

			return float64(n), nil
		}

		v, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return 0, err
		}

		return v * p.value, nil
	}

	if number, ok := strings.CutSuffix(s, "u"); ok {
		v, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return 0, err
		}

		return v * 1e-6, nil
	}

	return strconv.ParseFloat(s, 64)
}

// parseDuration reads space separated parts such as "1d 2h" or "250ms"
// and returns seconds.
func parseDuration(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration

	for _, part := range strings.Fields(s) {
		if days, ok := strings.CutSuffix(part, "d"); ok {
			n, err := strconv.ParseInt(days, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid days %q: %w", part, err)
			}

			total += time.Duration(n) * 24 * time.Hour

			continue
		}

		d, err := time.ParseDuration(part)
		if err != nil {
			return 0, err
		}

		total += d
	}

	return total.Seconds(), nil
}
