// Package schema validates untrusted JSON documents against the shape of
// a Go type before decoding them.
//
// Struct fields are required unless their type is nullable (a pointer or a
// type exposing OptionalElem, such as codec.Optional). Types that need
// their own rules implement Checker, and may implement Describer to name
// themselves in shape dumps.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Issue is a single mismatch between a document and the expected shape.
type Issue struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// String renders the issue as "path: expected X, got Y".
func (i Issue) String() string {
	path := i.Path
	if path == "" {
		path = "(root)"
	}

	return fmt.Sprintf("%s: expected %s, got %s", path, i.Expected, i.Actual)
}

// Error reports every issue found in a document together with a unified
// diff of the expected and actual shapes.
type Error struct {
	Issues []Issue
	Diff   string
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}

	return "schema mismatch: " + strings.Join(parts, "; ")
}

// Checker is implemented by types that validate their own raw JSON form.
// raw is the output of encoding/json with UseNumber enabled.
type Checker interface {
	CheckSchema(raw any, path string) []Issue
}

// Describer names a type in shape dumps.
type Describer interface {
	DescribeSchema() string
}

type optional interface {
	OptionalElem() reflect.Type
}

var (
	checkerType   = reflect.TypeOf((*Checker)(nil)).Elem()
	describerType = reflect.TypeOf((*Describer)(nil)).Elem()
	optionalType  = reflect.TypeOf((*optional)(nil)).Elem()
)

// Decode validates data against the type pointed to by v and decodes it
// into v only if the document matches. On mismatch v is left untouched
// and an *Error is returned.
func Decode(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", v)
	}

	raw, err := Parse(data)
	if err != nil {
		return &Error{Issues: []Issue{{Expected: "JSON document", Actual: err.Error()}}}
	}

	t := rv.Elem().Type()

	if issues := Check(raw, t, ""); len(issues) > 0 {
		return &Error{
			Issues: issues,
			Diff:   unifiedDiff(Describe(t), DescribeValue(raw, t)),
		}
	}

	decoded := reflect.New(t)
	if err := json.Unmarshal(data, decoded.Interface()); err != nil {
		return &Error{Issues: []Issue{{Expected: Label(t), Actual: err.Error()}}}
	}

	rv.Elem().Set(decoded.Elem())

	return nil
}

// Parse decodes data into generic JSON values, keeping numbers as json.Number.
func Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}

	if dec.More() {
		return nil, fmt.Errorf("parsing json: trailing data after document")
	}

	return raw, nil
}

// Check validates raw against t and returns every issue found.
func Check(raw any, t reflect.Type, path string) []Issue {
	if c, ok := checkerFor(t); ok {
		return c.CheckSchema(raw, path)
	}

	if elem, ok := OptionalElem(t); ok {
		if raw == nil {
			return nil
		}

		return Check(raw, elem, path)
	}

	if raw == nil {
		if t.Kind() == reflect.Interface {
			return nil
		}

		return []Issue{Mismatch(path, Label(t), raw)}
	}

	switch t.Kind() {
	case reflect.Pointer:
		return Check(raw, t.Elem(), path)
	case reflect.Interface:
		return nil
	case reflect.Bool:
		if _, ok := raw.(bool); !ok {
			return []Issue{Mismatch(path, Label(t), raw)}
		}
	case reflect.String:
		if _, ok := raw.(string); !ok {
			return []Issue{Mismatch(path, Label(t), raw)}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if _, ok := AsInt(raw); !ok {
			return []Issue{Mismatch(path, Label(t), raw)}
		}
	case reflect.Float32, reflect.Float64:
		if _, ok := AsNumber(raw); !ok {
			return []Issue{Mismatch(path, Label(t), raw)}
		}
	case reflect.Slice, reflect.Array:
		return checkArray(raw, t, path)
	case reflect.Map:
		return checkMap(raw, t, path)
	case reflect.Struct:
		return checkStruct(raw, t, path)
	default:
		return []Issue{{Path: path, Expected: "supported type", Actual: t.String()}}
	}

	return nil
}

func checkArray(raw any, t reflect.Type, path string) []Issue {
	arr, ok := raw.([]any)
	if !ok {
		return []Issue{Mismatch(path, Label(t), raw)}
	}

	if t.Kind() == reflect.Array && len(arr) != t.Len() {
		return []Issue{{
			Path:     path,
			Expected: fmt.Sprintf("array of length %d", t.Len()),
			Actual:   fmt.Sprintf("array of length %d", len(arr)),
		}}
	}

	var issues []Issue
	for i, elem := range arr {
		issues = append(issues, Check(elem, t.Elem(), Index(path, i))...)
	}

	return issues
}

func checkMap(raw any, t reflect.Type, path string) []Issue {
	obj, ok := raw.(map[string]any)
	if !ok || t.Key().Kind() != reflect.String {
		return []Issue{Mismatch(path, Label(t), raw)}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var issues []Issue
	for _, k := range keys {
		issues = append(issues, Check(obj[k], t.Elem(), Field(path, k))...)
	}

	return issues
}

func checkStruct(raw any, t reflect.Type, path string) []Issue {
	obj, ok := raw.(map[string]any)
	if !ok {
		return []Issue{Mismatch(path, Label(t), raw)}
	}

	var issues []Issue

	for _, f := range fieldsOf(t) {
		v, present := obj[f.name]
		fieldPath := Field(path, f.name)

		if !present {
			if f.optional {
				continue
			}

			issues = append(issues, Issue{Path: fieldPath, Expected: Label(f.typ), Actual: "missing"})

			continue
		}

		issues = append(issues, Check(v, f.typ, fieldPath)...)
	}

	return issues
}

// Mismatch builds an issue for raw not matching the expected label.
func Mismatch(path, expected string, raw any) Issue {
	return Issue{Path: path, Expected: expected, Actual: ValueLabel(raw)}
}

// Field joins a path and an object key.
func Field(path, name string) string {
	if path == "" {
		return name
	}

	return path + "." + name
}

// Index joins a path and an array index.
func Index(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

// AsNumber extracts a float from a raw JSON number.
func AsNumber(raw any) (float64, bool) {
	switch n := raw.(type) {
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// AsInt extracts an integer from a raw JSON number without a fraction.
func AsInt(raw any) (int64, bool) {
	switch n := raw.(type) {
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return i, true
		}

		f, err := n.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, false
		}

		return int64(f), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}

		return int64(n), true
	default:
		return 0, false
	}
}

// OptionalElem returns the wrapped type of a nullable type.
func OptionalElem(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() == reflect.Pointer {
		return t.Elem(), true
	}

	if t.Kind() != reflect.Interface && t.Implements(optionalType) {
		opt, _ := reflect.Zero(t).Interface().(optional)

		return opt.OptionalElem(), true
	}

	return nil, false
}

func checkerFor(t reflect.Type) (Checker, bool) {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		return nil, false
	}

	if t.Implements(checkerType) {
		c, _ := reflect.Zero(t).Interface().(Checker)

		return c, true
	}

	if reflect.PointerTo(t).Implements(checkerType) {
		c, _ := reflect.New(t).Interface().(Checker)

		return c, true
	}

	return nil, false
}

type structField struct {
	name     string
	typ      reflect.Type
	optional bool
}

func fieldsOf(t reflect.Type) []structField {
	fields := make([]structField, 0, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)

		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			fields = append(fields, fieldsOf(f.Type)...)

			continue
		}

		if !f.IsExported() {
			continue
		}

		if name == "" {
			name = f.Name
		}

		_, nullable := OptionalElem(f.Type)

		fields = append(fields, structField{
			name:     name,
			typ:      f.Type,
			optional: nullable || strings.Contains(opts, "omitempty"),
		})
	}

	return fields
}
