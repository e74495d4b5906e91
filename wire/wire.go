// Package wire implements the Result Mux/Demux consumed collaborator
// (C7): it serializes ResultSets to the inter-node binary wire form a
// forked reply carries, and merges wire forms back into a ResultSet (or
// straight to JSON) on the originating node. The wire codec and JSON
// codec are narrow, out-of-scope external interfaces this substrate
// only consumes -- DESIGN.md records why this package's implementation
// stays on encoding/gob and encoding/json rather than reaching for a
// third-party serialization library.
package wire

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"sort"

	"github.com/perple-io/openset/resultset"
)

// wireRow is the gob-friendly projection of resultset.Row.
type wireRow struct {
	Group  string
	Values map[string]int64
}

// Encode serializes a node's merged ResultSet to the inter-node binary
// form a forked reply's body carries.
func Encode(rs *resultset.ResultSet) ([]byte, error) {
	rows := rs.Rows()
	wrows := make([]wireRow, len(rows))
	for i, r := range rows {
		wrows[i] = wireRow{Group: r.Group, Values: r.Values}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wrows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reconstructs a ResultSet from a wire-form buffer produced by
// Encode, e.g. one received from a peer's forked reply.
func Decode(data []byte) (*resultset.ResultSet, error) {
	var wrows []wireRow
	if len(data) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wrows); err != nil {
			return nil, err
		}
	}
	rs := resultset.New()
	for _, wr := range wrows {
		for col, v := range wr.Values {
			rs.Add(wr.Group, col, v)
		}
	}
	return rs, nil
}

// Column is one output column's label and numeric scale. ToJSONOptions
// carries a list of them, but ToJSON does not read it: every value is
// emitted as the stored int64, fixed-point columns included.
type Column struct {
	Name       string
	FixedPoint bool // true for int/double columns stored scaled by 10,000
}

// SortOrder controls ToJSON's row ordering.
type SortOrder int

const (
	SortNone SortOrder = iota
	SortAsc
	SortDesc
)

// ToJSONOptions configures ToJSON's sort/trim/histogram-fill behavior,
// covering the Coordinator's post-merge steps: apply histogram bucket
// fill, apply sort, apply trim.
type ToJSONOptions struct {
	Columns []Column

	// SortColumn, if non-empty, sorts rows by that column's value
	// instead of by group key.
	SortColumn string
	Order      SortOrder

	// Trim caps the number of rows returned; 0 means unbounded.
	Trim int

	// HistogramFill, when non-nil, requests zero-filled contiguous
	// buckets from Min to Max in steps of Bucket before sorting.
	HistogramFill *HistogramFill
}

// HistogramFill describes the contiguous zero-filled bucket range a
// histogram query's originator applies after merge.
type HistogramFill struct {
	Bucket, Min, Max int64
}

// jsonRow is the wire shape of one output row.
type jsonRow struct {
	Group  string           `json:"key"`
	Values map[string]int64 `json:"values"`
}

// ToJSON merges the given wire-form buffers (one per responding node),
// applies histogram fill/sort/trim, and marshals the result to JSON for
// the client-facing reply. This is the non-forked reply path's
// counterpart to a forked node's Encode.
func ToJSON(buffers [][]byte, opts ToJSONOptions) ([]byte, error) {
	merged := resultset.New()
	for _, buf := range buffers {
		rs, err := Decode(buf)
		if err != nil {
			return nil, err
		}
		merged.Merge(rs)
	}

	if opts.HistogramFill != nil {
		fillHistogram(merged, *opts.HistogramFill)
	}

	rows := merged.Rows()
	sortRows(rows, opts)

	if opts.Trim > 0 && len(rows) > opts.Trim {
		rows = rows[:opts.Trim]
	}

	out := make([]jsonRow, len(rows))
	for i, r := range rows {
		out[i] = jsonRow{Group: r.Group, Values: r.Values}
	}
	return json.Marshal(out)
}

func fillHistogram(rs *resultset.ResultSet, h HistogramFill) {
	if h.Bucket <= 0 {
		return
	}
	for b := h.Min; b <= h.Max; b += h.Bucket {
		key := bucketKey(b)
		found := false
		for _, r := range rs.Rows() {
			if r.Group == key {
				found = true
				break
			}
		}
		if !found {
			rs.Add(key, "count", 0)
		}
	}
}

func bucketKey(b int64) string {
	return formatInt(b)
}

func parseInt(s string) int64 {
	var v int64
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return v
		}
		v = v*10 + int64(c-'0')
	}
	if neg {
		return -v
	}
	return v
}

func formatInt(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		digits[i] = '-'
	}
	return string(digits[i:])
}

func sortRows(rows []*resultset.Row, opts ToJSONOptions) {
	switch {
	case opts.SortColumn != "":
		sort.SliceStable(rows, func(i, j int) bool {
			vi, vj := rows[i].Values[opts.SortColumn], rows[j].Values[opts.SortColumn]
			if opts.Order == SortDesc {
				return vi > vj
			}
			return vi < vj
		})
	case opts.HistogramFill != nil:
		sort.SliceStable(rows, func(i, j int) bool {
			vi, vj := parseInt(rows[i].Group), parseInt(rows[j].Group)
			if opts.Order == SortDesc {
				return vi > vj
			}
			return vi < vj
		})
	default:
		if opts.Order == SortDesc {
			sort.SliceStable(rows, func(i, j int) bool { return rows[i].Group > rows[j].Group })
		} else if opts.Order == SortAsc {
			sort.SliceStable(rows, func(i, j int) bool { return rows[i].Group < rows[j].Group })
		}
		// SortNone: preserve arrival order -- the merge callback must not
		// assume partition order, so ordering is only imposed when the
		// client actually asked for a sort.
	}
}
