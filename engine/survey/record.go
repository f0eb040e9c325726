// Package survey defines the typed request schema for health-survey answers.
// It is the validation gate in front of feature mapping: every provided
// field is coerced to a float64 or rejected before any model code runs.
package survey

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Record holds the survey answers a client actually provided.
// A field that was omitted (or sent as null) is absent, which is distinct
// from a field that was sent as zero.
type Record struct {
	fields map[string]float64
}

// Lookup returns the value of a field and whether it was provided.
func (r Record) Lookup(name string) (float64, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Get returns the field value, or fallback when the field is absent.
func (r Record) Get(name string, fallback float64) float64 {
	if v, ok := r.fields[name]; ok {
		return v
	}
	return fallback
}

// Parse decodes a JSON object of survey answers.
//
// Accepted per field: JSON numbers, numeric strings (surrounding whitespace
// is ignored), and booleans (true=1, false=0). A null value is treated as
// absent. Anything else is rejected with a *FieldError naming the first bad
// field in sorted order. Unknown field names are kept; the feature mapper
// only reads the names it knows. The body must hold exactly one object.
func Parse(data []byte) (Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Record{}, ErrInvalidBody
	}

	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Record{}, fmt.Errorf("%w: unexpected data after the object", ErrInvalidBody)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	rec := Record{fields: make(map[string]float64, len(raw))}
	for _, name := range names {
		msg := raw[name]
		v, present, err := coerce(msg)
		if err != nil {
			return Record{}, NewFieldError(name, string(msg), err)
		}
		if present {
			rec.fields[name] = v
		}
	}
	return rec, nil
}

// coerce converts one raw JSON value into a float64.
// present is false for null.
func coerce(msg json.RawMessage) (v float64, present bool, err error) {
	s := strings.TrimSpace(string(msg))
	switch {
	case s == "" || s == "null":
		return 0, false, nil
	case s == "true":
		return 1, true, nil
	case s == "false":
		return 0, true, nil
	case s[0] == '"':
		var str string
		if err := json.Unmarshal(msg, &str); err != nil {
			return 0, false, ErrMalformedField
		}
		return parseNumber(strings.TrimSpace(str))
	case s[0] == '{' || s[0] == '[':
		return 0, false, ErrMalformedField
	default:
		return parseNumber(s)
	}
}

func parseNumber(s string) (float64, bool, error) {
	if s == "" {
		return 0, false, ErrMalformedField
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, ErrMalformedField
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("%w: %w", ErrMalformedField, ErrNonFinite)
	}
	return f, true, nil
}
