package query

import (
	"context"

	"github.com/perple-io/openset/resultset"
)

// EventJob is one partition's slice of an event-script query.
type EventJob struct {
	Table       string
	PartitionID int
	Query       CompiledQuery
	SessionTime int64
	Segments    []string
	// Cursor is opaque state the Runner uses to resume iteration across
	// ticks; the Coordinator and Open-Loop never inspect it.
	Cursor interface{}
}

// SegmentJob is one partition's slice of a segment-definition query.
type SegmentJob struct {
	Table    string
	PartitionID int
	Sections []SegmentSection
	Cursor   interface{}
}

// ColumnFilter describes a single-column filter request.
type ColumnFilter struct {
	Column     string
	Mode       FilterMode
	Value      string
	Low, High  string
	Regex      string
}

// ColumnJob is one partition's slice of a column query.
type ColumnJob struct {
	Table       string
	PartitionID int
	Filter      ColumnFilter
	Bucket      int64
	Segments    []string
	Cursor      interface{}
}

// HistogramJob is one partition's slice of a histogram query.
type HistogramJob struct {
	Table       string
	PartitionID int
	Query       CompiledQuery
	Bucket, Min, Max int64
	Foreach     string
	Segments    []string
	Cursor      interface{}
}

// PersonJob identifies a single-person lookup.
type PersonJob struct {
	Table       string
	PartitionID int
	PersonID    uint64
}

// PersonRecord is the opaque per-person payload a lookup returns; it
// is round-tripped to JSON by the HTTP intake's response writer, not
// interpreted here.
type PersonRecord struct {
	PersonID uint64
	Fields   map[string]interface{}
}

// Runner is the consumed script VM/execution surface: it advances one
// job by exactly one cooperative slice, writing partial aggregates into
// rs, and reports whether the job is finished. An Open-Loop calls this
// once per scheduler tick -- 's "long operations must be
// chunked across ticks" applies inside the Runner's implementation, not
// in this package, which only calls it once per Run().
type Runner interface {
	RunEvent(ctx context.Context, job *EventJob, rs *resultset.ResultSet) (done bool, err error)
	RunSegment(ctx context.Context, job *SegmentJob, rs *resultset.ResultSet) (done bool, err error)
	RunColumn(ctx context.Context, job *ColumnJob, rs *resultset.ResultSet) (done bool, err error)
	RunHistogram(ctx context.Context, job *HistogramJob, rs *resultset.ResultSet) (done bool, err error)
	RunPerson(ctx context.Context, job *PersonJob) (rec PersonRecord, found bool, err error)
}
