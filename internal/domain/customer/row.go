package customer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one raw customer record keyed by source column name.
// Values may be strings (as read from a TSV file) or JSON scalars.
type Row map[string]any

// FeatureRecord is a Row after feature derivation. It holds exactly the
// columns of FeatureSchema.
type FeatureRecord map[string]any

var errNotIntegral = errors.New("not an integer")

// dateLayouts are tried in order. Dashed dates are day first.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"01/02/2006",
	time.RFC3339,
}

// IsMissing reports whether v counts as an absent value.
func IsMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		switch strings.TrimSpace(t) {
		case "", "NA", "NaN", "nan", "null":
			return true
		}
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	}
	return false
}

// ParseNumber converts a scalar cell into a float64.
func ParseNumber(field string, v any) (float64, error) {
	if IsMissing(v) {
		return 0, &MissingFieldError{Field: field}
	}
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case bool:
		if t {
			f = 1
		}
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return 0, &MalformedInputError{Field: field, Value: v, Err: err}
	}
	if math.IsInf(f, 0) {
		return 0, &MalformedInputError{Field: field, Value: v}
	}
	return f, nil
}

// parseInt is ParseNumber restricted to whole numbers.
func parseInt(field string, v any) (float64, error) {
	f, err := ParseNumber(field, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, &MalformedInputError{Field: field, Value: v, Err: errNotIntegral}
	}
	return f, nil
}

func parseString(field string, v any) (string, error) {
	if IsMissing(v) {
		return "", &MissingFieldError{Field: field}
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case fmt.Stringer:
		return strings.TrimSpace(t.String()), nil
	default:
		return "", &MalformedInputError{Field: field, Value: v, Err: fmt.Errorf("want string, got %T", v)}
	}
}

func parseDate(field string, v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return dateOnly(t), nil
	}
	s, err := parseString(field, v)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range dateLayouts {
		if t, perr := time.Parse(layout, s); perr == nil {
			return dateOnly(t), nil
		}
	}
	return time.Time{}, &MalformedInputError{Field: field, Value: v, Err: errors.New("unrecognised date")}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// get returns the raw value for field, or a MissingFieldError.
func (r Row) get(field string) (any, error) {
	v, ok := r[field]
	if !ok {
		return nil, &MissingFieldError{Field: field}
	}
	return v, nil
}
