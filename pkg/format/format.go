// Package format renders metric values for humans.
package format

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Units with dedicated rendering.
const (
	UnitSeconds  = "s"
	UnitBytes    = "B"
	UnitPercent  = "%"
	UnitFraction = "100%"
)

// DefaultPrecision is the number of decimals New uses.
const DefaultPrecision = 1

type prefix struct {
	value  float64
	symbol string
}

var decimalPrefixes = []prefix{
	{1e18, "E"},
	{1e15, "P"},
	{1e12, "T"},
	{1e9, "G"},
	{1e6, "M"},
	{1e3, "k"},
	{1, ""},
	{1e-3, "m"},
	{1e-6, "μ"},
	{1e-9, "n"},
	{1e-12, "p"},
	{1e-15, "f"},
}

var binaryPrefixes = []prefix{
	{1 << 60, "EiB"},
	{1 << 50, "PiB"},
	{1 << 40, "TiB"},
	{1 << 30, "GiB"},
	{1 << 20, "MiB"},
	{1 << 10, "kiB"},
	{1, "B"},
}

// Formatter renders numbers. The zero value has precision 0; use New for
// the usual single decimal.
type Formatter struct {
	// Sign prefixes positive values with "+".
	Sign bool
	// Precision is the number of decimals. Negative values act as 0.
	Precision int
	// Align pads prefix symbols to the widest symbol of their table.
	Align bool
}

// New returns a formatter with precision 1, no sign and no alignment.
func New() Formatter {
	return Formatter{Precision: DefaultPrecision}
}

// WithSign returns a copy with Sign set.
func (f Formatter) WithSign(sign bool) Formatter {
	f.Sign = sign

	return f
}

// WithPrecision returns a copy with Precision set.
func (f Formatter) WithPrecision(precision int) Formatter {
	f.Precision = precision

	return f
}

// WithAlign returns a copy with Align set.
func (f Formatter) WithAlign(align bool) Formatter {
	f.Align = align

	return f
}

// Value renders v according to unit without appending a plain unit.
func (f Formatter) Value(v float64, unit string) string {
	return f.value(v, unit, false)
}

// ValueWithUnit is like Value but appends units that have no dedicated
// rendering, e.g. "1.5kinstr".
func (f Formatter) ValueWithUnit(v float64, unit string) string {
	return f.value(v, unit, true)
}

func (f Formatter) value(v float64, unit string, withUnit bool) string {
	switch unit {
	case UnitSeconds:
		return f.Duration(time.Duration(math.Round(v*1000)) * time.Millisecond)
	case UnitBytes:
		return f.Bytes(v)
	case UnitPercent:
		return f.number(v, nil) + "%"
	case UnitFraction:
		return f.number(v*100, nil) + "%"
	}

	if withUnit && unit != "" {
		return f.Decimal(v) + unit
	}

	return f.Decimal(v)
}

// Decimal renders v with an SI prefix between exa and femto.
func (f Formatter) Decimal(v float64) string {
	return f.number(v, decimalPrefixes)
}

// Bytes renders a byte count with a binary prefix and no decimals.
func (f Formatter) Bytes(v float64) string {
	return f.WithPrecision(0).number(math.Round(v), binaryPrefixes)
}

// Duration renders d as its two coarsest non-zero units of days, hours,
// minutes and seconds, e.g. "1d 2h". Milliseconds appear only below one
// second.
func (f Formatter) Duration(d time.Duration) string {
	ms := d.Round(time.Millisecond).Milliseconds()
	negative := ms < 0

	if negative {
		ms = -ms
	}

	units := []struct {
		n      int64
		suffix string
	}{
		{ms / (24 * 60 * 60 * 1000), "d"},
		{ms / (60 * 60 * 1000) % 24, "h"},
		{ms / (60 * 1000) % 60, "m"},
		{ms / 1000 % 60, "s"},
	}

	parts := make([]string, 0, 2)

	for _, u := range units {
		if u.n == 0 {
			continue
		}

		parts = append(parts, strconv.FormatInt(u.n, 10)+u.suffix)
		if len(parts) == 2 {
			break
		}
	}

	if len(parts) == 0 && ms%1000 > 0 {
		parts = append(parts, strconv.FormatInt(ms%1000, 10)+"ms")
	}

	if len(parts) == 0 {
		parts = append(parts, "0s")
	}

	return f.signed(strings.Join(parts, " "), negative)
}

func (f Formatter) number(v float64, prefixes []prefix) string {
	negative := v < 0
	abs := math.Abs(v)

	p := prefix{value: 1}

	if len(prefixes) > 0 && abs != 0 {
		p = prefixes[len(prefixes)-1]

		for _, candidate := range prefixes {
			if abs > candidate.value {
				p = candidate

				break
			}
		}
	}

	if len(prefixes) > 0 && abs == 0 {
		p = unitPrefix(prefixes)
	}

	symbol := p.symbol
	if f.Align {
		symbol = padRight(symbol, widest(prefixes))
	}

	return f.signed(f.float(abs/p.value)+symbol, negative)
}

func (f Formatter) float(v float64) string {
	if f.Precision <= 0 {
		return strconv.FormatFloat(math.Round(v), 'f', 0, 64)
	}

	return strconv.FormatFloat(v, 'f', f.Precision, 64)
}

func (f Formatter) signed(s string, negative bool) string {
	switch {
	case negative:
		return "-" + s
	case f.Sign:
		return "+" + s
	default:
		return s
	}
}

func unitPrefix(prefixes []prefix) prefix {
	for _, p := range prefixes {
		if p.value == 1 {
			return p
		}
	}

	return prefix{value: 1}
}

func widest(prefixes []prefix) int {
	var width int

	for _, p := range prefixes {
		width = max(width, len([]rune(p.symbol)))
	}

	return width
}

func padRight(s string, width int) string {
	if n := len([]rune(s)); n < width {
		return s + strings.Repeat(" ", width-n)
	}

	return s
}
