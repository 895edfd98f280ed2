// Package query caches fetched values under structured keys, with
// de-duplicated fetches, prefix invalidation, polling subscriptions and
// reference counted garbage collection.
package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Key identifies a cached value: an entity name plus flat primitive
// parameters. Two keys are equal when the entity and every parameter
// match, regardless of parameter order.
type Key struct {
	Entity string
	Params map[string]any
}

// NewKey builds a key. params may be nil, a map with string keys, or a
// struct whose fields are flattened with their mapstructure tags.
func NewKey(entity string, params any) (Key, error) {
	key := Key{Entity: entity, Params: map[string]any{}}

	if params == nil {
		return key, nil
	}

	if err := mapstructure.Decode(params, &key.Params); err != nil {
		return Key{}, fmt.Errorf("decoding %s key params: %w", entity, err)
	}

	for name, value := range key.Params {
		if !isPrimitive(value) {
			return Key{}, fmt.Errorf("%s key param %q is not a primitive: %T", entity, name, value)
		}
	}

	return key, nil
}

// MustKey is like NewKey but panics on invalid params. It is meant for
// params of a fixed struct type.
func MustKey(entity string, params any) Key {
	key, err := NewKey(entity, params)
	if err != nil {
		panic(err)
	}

	return key
}

// String returns the canonical form, e.g. compare{first=a,repo=r,second=b}.
func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Entity
	}

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}

	sort.Strings(names)

	var b strings.Builder

	b.WriteString(k.Entity)
	b.WriteString("{")

	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}

		fmt.Fprintf(&b, "%s=%s", name, formatParam(k.Params[name]))
	}

	b.WriteString("}")

	return b.String()
}

// Equal reports whether k and other name the same entry.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

// HasPrefix reports whether prefix selects k: the entities match and every
// parameter of prefix is present in k with an equal value.
func (k Key) HasPrefix(prefix Key) bool {
	if k.Entity != prefix.Entity {
		return false
	}

	for name, want := range prefix.Params {
		got, ok := k.Params[name]
		if !ok || formatParam(got) != formatParam(want) {
			return false
		}
	}

	return true
}

func formatParam(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}

	return fmt.Sprint(v)
}

func isPrimitive(v any) bool {
	if v == nil {
		return true
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
