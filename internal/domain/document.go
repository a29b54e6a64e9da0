package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Document is an opaque JSON object (event payloads, metadata, rule conditions, evidence).
type Document map[string]any

// Clone returns a shallow copy; a nil document clones to an empty one.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a copy of d with every key of other applied on top.
func (d Document) Merge(other Document) Document {
	out := d.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Dig walks nested objects and returns the value at path, or nil.
func (d Document) Dig(path ...string) any {
	var cur any = map[string]any(d)
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[key]
		case Document:
			cur = node[key]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// String renders the scalar at path as a string; missing or non-scalar values yield "".
func (d Document) String(path ...string) string {
	return ScalarString(d.Dig(path...))
}

// Decimal parses the scalar at path as a decimal.
func (d Document) Decimal(path ...string) (decimal.Decimal, bool) {
	return ScalarDecimal(d.Dig(path...))
}

// Int reads the scalar at path as an int.
func (d Document) Int(path ...string) (int, bool) {
	v := d.Dig(path...)
	if v == nil {
		return 0, false
	}
	n, err := cast.ToIntE(normalizeNumber(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ScalarString renders JSON scalars without scientific notation.
func ScalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case decimal.Decimal:
		return t.String()
	case map[string]any, []any, Document:
		return ""
	default:
		s, err := cast.ToStringE(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return s
	}
}

// ScalarDecimal parses numbers and numeric strings into a decimal.
func ScalarDecimal(v any) (decimal.Decimal, bool) {
	if d, ok := v.(decimal.Decimal); ok {
		return d, true
	}
	s := strings.TrimSpace(ScalarString(v))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func normalizeNumber(v any) any {
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	return v
}
