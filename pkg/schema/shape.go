package schema

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Label is the short name of a type used in issue messages.
func Label(t reflect.Type) string {
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface && t.Implements(describerType) {
		d, _ := reflect.Zero(t).Interface().(Describer)

		return d.DescribeSchema()
	}

	if elem, ok := OptionalElem(t); ok {
		return Label(elem) + " | null"
	}

	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Interface:
		return "any"
	default:
		return t.String()
	}
}

// ValueLabel is the short name of a raw JSON value.
func ValueLabel(raw any) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64:
		if _, ok := AsInt(v); ok {
			return "integer"
		}

		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return reflect.TypeOf(raw).String()
	}
}

// Describe renders the expected shape of t, one field per line.
func Describe(t reflect.Type) string {
	var b strings.Builder

	writeType(&b, t, 0, map[reflect.Type]bool{})

	return b.String()
}

// DescribeValue renders the shape of raw. Sub-documents that match t are
// rendered exactly like Describe so that a diff against the expected shape
// only highlights the parts that differ.
func DescribeValue(raw any, t reflect.Type) string {
	var b strings.Builder

	writeValue(&b, raw, t, 0)

	return b.String()
}

func writeType(b *strings.Builder, t reflect.Type, indent int, seen map[reflect.Type]bool) {
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface &&
		(t.Implements(describerType) || t.Implements(checkerType)) {
		b.WriteString(Label(t))

		return
	}

	if elem, ok := OptionalElem(t); ok {
		writeType(b, elem, indent, seen)
		b.WriteString(" | null")

		return
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		b.WriteString("[")
		writeType(b, t.Elem(), indent, seen)
		b.WriteString("]")
	case reflect.Map:
		b.WriteString("{string: ")
		writeType(b, t.Elem(), indent, seen)
		b.WriteString("}")
	case reflect.Struct:
		if seen[t] {
			b.WriteString(t.Name())

			return
		}

		seen[t] = true
		defer delete(seen, t)

		b.WriteString("{\n")

		for _, f := range fieldsOf(t) {
			pad(b, indent+1)
			writeFieldName(b, f)

			if elem, ok := OptionalElem(f.typ); ok {
				writeType(b, elem, indent+1, seen)
			} else {
				writeType(b, f.typ, indent+1, seen)
			}

			b.WriteString("\n")
		}

		pad(b, indent)
		b.WriteString("}")
	default:
		b.WriteString(Label(t))
	}
}

func writeValue(b *strings.Builder, raw any, t reflect.Type, indent int) {
	if t != nil && len(Check(raw, t, "")) == 0 {
		writeType(b, t, indent, map[reflect.Type]bool{})

		return
	}

	if t != nil {
		if elem, ok := OptionalElem(t); ok {
			t = elem
		}

		if _, ok := checkerFor(t); ok {
			t = nil
		}
	}

	switch v := raw.(type) {
	case []any:
		if len(v) == 0 {
			b.WriteString("[]")

			return
		}

		var elem reflect.Type
		if t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
			elem = t.Elem()
		}

		// Show the first offending element, or the first one if all pass.
		first := v[0]

		if elem != nil {
			for _, e := range v {
				if len(Check(e, elem, "")) > 0 {
					first = e

					break
				}
			}
		}

		b.WriteString("[")
		writeValue(b, first, elem, indent)
		b.WriteString("]")
	case map[string]any:
		writeObject(b, v, t, indent)
	default:
		b.WriteString(ValueLabel(raw))
	}
}

func writeObject(b *strings.Builder, obj map[string]any, t reflect.Type, indent int) {
	b.WriteString("{\n")

	written := make(map[string]bool, len(obj))

	if t != nil && t.Kind() == reflect.Struct {
		for _, f := range fieldsOf(t) {
			v, present := obj[f.name]
			if !present && !f.optional {
				continue
			}

			written[f.name] = true

			pad(b, indent+1)
			writeFieldName(b, f)

			if !present {
				ft := f.typ
				if elem, ok := OptionalElem(ft); ok {
					ft = elem
				}

				writeType(b, ft, indent+1, map[reflect.Type]bool{})
				b.WriteString("\n")

				continue
			}

			ft := f.typ
			if elem, ok := OptionalElem(ft); ok {
				if v == nil {
					writeType(b, elem, indent+1, map[reflect.Type]bool{})
					b.WriteString("\n")

					continue
				}

				ft = elem
			}

			writeValue(b, v, ft, indent+1)
			b.WriteString("\n")
		}
	}

	var elem reflect.Type
	if t != nil && t.Kind() == reflect.Map {
		elem = t.Elem()
	}

	extra := make([]string, 0, len(obj))
	for k := range obj {
		if !written[k] {
			extra = append(extra, k)
		}
	}

	sort.Strings(extra)

	for _, k := range extra {
		pad(b, indent+1)
		b.WriteString(k)
		b.WriteString(": ")
		writeValue(b, obj[k], elem, indent+1)
		b.WriteString("\n")
	}

	pad(b, indent)
	b.WriteString("}")
}

func writeFieldName(b *strings.Builder, f structField) {
	b.WriteString(f.name)

	if f.optional {
		b.WriteString("?")
	}

	b.WriteString(": ")
}

func pad(b *strings.Builder, indent int) {
	b.WriteString(strings.Repeat("  ", indent))
}

func unifiedDiff(expected, actual string) string {
	if expected == actual {
		return ""
	}

	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	}

	res, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return strings.TrimSpace(actual)
	}

	return strings.TrimSpace(res)
}
