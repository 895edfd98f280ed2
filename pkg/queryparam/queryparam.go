// Package queryparam converts between URL query parameters and typed
// values. Every codec round-trips: decoding an encoded value yields the
// value again, and encoding a codec's default removes the parameter so
// URLs stay minimal and canonical.
package queryparam

import (
	"net/url"
	"sort"
	"strconv"

	"github.com/leanprover/radar/pkg/codec"
)

// first returns the first value of a parameter, if any.
func first(values url.Values, name string) (string, bool) {
	vs, ok := values[name]
	if !ok || len(vs) == 0 {
		return "", false
	}

	return vs[0], true
}

// String is a plain string parameter.
type String struct {
	Name    string
	Default string
}

// Decode returns the parameter, or the default when absent.
func (c String) Decode(values url.Values) string {
	if s, ok := first(values, c.Name); ok {
		return s
	}

	return c.Default
}

// Encode stores s, removing the parameter when s is the default.
func (c String) Encode(values url.Values, s string) {
	if s == c.Default {
		values.Del(c.Name)

		return
	}

	values.Set(c.Name, s)
}

// NonEmptyString is a string parameter where "" means absent.
type NonEmptyString struct {
	Name string
}

func (c NonEmptyString) Decode(values url.Values) codec.Optional[string] {
	s, _ := first(values, c.Name)

	return c.Parse(s)
}

// Parse canonicalizes a raw value such as a flag, mapping "" to absent.
func (NonEmptyString) Parse(s string) codec.Optional[string] {
	if s == "" {
		return codec.None[string]()
	}

	return codec.Some(s)
}

func (c NonEmptyString) Encode(values url.Values, s codec.Optional[string]) {
	v, ok := s.Get()
	if !ok || v == "" {
		values.Del(c.Name)

		return
	}

	values.Set(c.Name, v)
}

// Int is a base 10 integer parameter, optionally clamped to [Min, Max] on
// both read and write.
type Int struct {
	Name    string
	Default int
	Min     codec.Optional[int]
	Max     codec.Optional[int]
}

// Lookup returns the clamped parameter. Missing or non-numeric input is
// absent, never zero.
func (c Int) Lookup(values url.Values) codec.Optional[int] {
	s, ok := first(values, c.Name)
	if !ok {
		return codec.None[int]()
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return codec.None[int]()
	}

	return codec.Some(c.Clamp(n))
}

// Decode returns the clamped parameter or the clamped default.
func (c Int) Decode(values url.Values) int {
	return c.Lookup(values).OrElse(c.Clamp(c.Default))
}

// Encode stores the clamped n, removing the parameter when it equals the
// default.
func (c Int) Encode(values url.Values, n int) {
	n = c.Clamp(n)

	if n == c.Default {
		values.Del(c.Name)

		return
	}

	values.Set(c.Name, strconv.Itoa(n))
}

// Clamp limits n to the configured range.
func (c Int) Clamp(n int) int {
	if lo, ok := c.Min.Get(); ok && n < lo {
		n = lo
	}

	if hi, ok := c.Max.Get(); ok && n > hi {
		n = hi
	}

	return n
}

// Bool is a boolean parameter. "false", "no" and "" decode to false, any
// other present value to true.
type Bool struct {
	Name    string
	Default bool
}

func (c Bool) Lookup(values url.Values) codec.Optional[bool] {
	s, ok := first(values, c.Name)
	if !ok {
		return codec.None[bool]()
	}

	return codec.Some(s != "" && s != "false" && s != "no")
}

func (c Bool) Decode(values url.Values) bool {
	return c.Lookup(values).OrElse(c.Default)
}

func (c Bool) Encode(values url.Values, b bool) {
	if b == c.Default {
		values.Del(c.Name)

		return
	}

	values.Set(c.Name, strconv.FormatBool(b))
}

// StringSet is a repeated parameter decoded into a sorted set.
type StringSet struct {
	Name string
}

// Decode returns the distinct values in sorted order. It never returns nil.
func (c StringSet) Decode(values url.Values) []string {
	return normalize(values[c.Name])
}

// Encode stores the distinct values in sorted order. An empty set removes
// the parameter.
func (c StringSet) Encode(values url.Values, set []string) {
	set = normalize(set)
	if len(set) == 0 {
		values.Del(c.Name)

		return
	}

	values[c.Name] = set
}

func normalize(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))

	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}

		seen[s] = struct{}{}
		out = append(out, s)
	}

	sort.Strings(out)

	return out
}
