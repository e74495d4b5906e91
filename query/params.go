package query

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/perple-io/openset/errors"
)

// Vars holds typed inline variables extracted from a query string's
// str_/int_/dbl_/bool_-prefixed parameters, keyed by the suffix after
// the prefix.
type Vars map[string]interface{}

var varPrefixes = []struct {
	prefix string
	parse  func(string) (interface{}, error)
}{
	{"str_", func(s string) (interface{}, error) { return s, nil }},
	{"int_", func(s string) (interface{}, error) { return strconv.ParseInt(s, 10, 64) }},
	{"dbl_", func(s string) (interface{}, error) { return strconv.ParseFloat(s, 64) }},
	{"bool_", func(s string) (interface{}, error) { return strconv.ParseBool(s) }},
}

// ExtractVars scans q for str_/int_/dbl_/bool_-prefixed keys and
// returns the typed Vars they describe.
func ExtractVars(q url.Values) (Vars, error) {
	vars := make(Vars)
	for key, vals := range q {
		if len(vals) == 0 {
			continue
		}
		for _, pp := range varPrefixes {
			if strings.HasPrefix(key, pp.prefix) {
				name := strings.TrimPrefix(key, pp.prefix)
				v, err := pp.parse(vals[0])
				if err != nil {
					return nil, errors.Newf(errors.CodeGeneralError, "invalid value for %s: %v", key, err)
				}
				vars[name] = v
				break
			}
		}
	}
	return vars, nil
}

// Scale10k converts a decimal string (e.g. a bucket/min/max/filter
// bound) to OpenSet's fixed-point representation: scaled by 10,000.
// 's numeric conventions.
func Scale10k(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Newf(errors.CodeGeneralError, "invalid numeric parameter %q", s)
	}
	return int64(math.Round(f * 10000)), nil
}

// ParseFilterMode resolves which of the mutually exclusive filter
// query parameters (gt|gte|lt|lte|eq|between&and|rx|sub) is present,
// along with its value(s).
func ParseFilterMode(q url.Values) (ColumnFilter, error) {
	switch {
	case q.Has("eq"):
		return ColumnFilter{Mode: FilterEq, Value: q.Get("eq")}, nil
	case q.Has("gt"):
		return ColumnFilter{Mode: FilterGt, Value: q.Get("gt")}, nil
	case q.Has("gte"):
		return ColumnFilter{Mode: FilterGte, Value: q.Get("gte")}, nil
	case q.Has("lt"):
		return ColumnFilter{Mode: FilterLt, Value: q.Get("lt")}, nil
	case q.Has("lte"):
		return ColumnFilter{Mode: FilterLte, Value: q.Get("lte")}, nil
	case q.Has("between"):
		return ColumnFilter{Mode: FilterBetween, Low: q.Get("between"), High: q.Get("and")}, nil
	case q.Has("rx"):
		return ColumnFilter{Mode: FilterRegex, Regex: q.Get("rx")}, nil
	case q.Has("sub"):
		return ColumnFilter{Mode: FilterSub, Value: q.Get("sub")}, nil
	default:
		return ColumnFilter{Mode: FilterAll}, nil
	}
}

// ParseSegments splits the csv "segments" query parameter.
func ParseSegments(q url.Values) []string {
	raw := q.Get("segments")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
