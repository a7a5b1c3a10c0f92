package table

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IsMissing reports whether a cell holds no value: nil, blank, or one of the
// NA spellings statistical exports use.
func IsMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "na", "nan", "null", "none", "n/a":
			return true
		}
		return false
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	default:
		return false
	}
}

// ParseYear converts a time cell to an integral year.
// "1990", "1990.0" and 1990.0 are accepted; 1990.5 is not.
func ParseYear(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case float64:
		return integral(t, v)
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("year %q is not a number", t)
		}
		return integral(f, v)
	default:
		return 0, fmt.Errorf("year has unsupported type %T", v)
	}
}

func integral(f float64, orig any) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("year %v is not integral", orig)
	}
	return int64(f), nil
}

// ParseValue converts a score cell. Missing cells become an invalid
// NullFloat64 rather than an error.
func ParseValue(v any) (sql.NullFloat64, error) {
	if IsMissing(v) {
		return sql.NullFloat64{}, nil
	}
	switch t := v.(type) {
	case float64:
		return sql.NullFloat64{Float64: t, Valid: true}, nil
	case float32:
		return sql.NullFloat64{Float64: float64(t), Valid: true}, nil
	case int:
		return sql.NullFloat64{Float64: float64(t), Valid: true}, nil
	case int64:
		return sql.NullFloat64{Float64: float64(t), Valid: true}, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return sql.NullFloat64{}, fmt.Errorf("value %q is not a number", t)
		}
		return sql.NullFloat64{Float64: f, Valid: true}, nil
	default:
		return sql.NullFloat64{}, fmt.Errorf("value has unsupported type %T", v)
	}
}
