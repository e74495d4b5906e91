package query

import (
	"context"
	"time"

	"github.com/perple-io/openset/openloop"
	"github.com/perple-io/openset/resultset"
	"github.com/perple-io/openset/shuttle"
)

// OpenLoopQuery runs one partition's slice of an event-script query,
// accumulating into a shared, worker-local ResultSet and reporting to
// shuttle when done.
type OpenLoopQuery struct {
	openloop.BaseLoop
	job     EventJob
	runner  Runner
	rs      *resultset.ResultSet
	shuttle *shuttle.Shuttle[Response]
}

func newOpenLoopQuery(table string, partitionID int, q CompiledQuery, sessionTime int64, segments []string, runner Runner, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) *OpenLoopQuery {
	return &OpenLoopQuery{
		BaseLoop: openloop.NewBaseLoop(table),
		job: EventJob{Table: table, PartitionID: partitionID, Query: q, SessionTime: sessionTime, Segments: segments},
		runner: runner, rs: rs, shuttle: sh,
	}
}

func (l *OpenLoopQuery) Run(ctx context.Context) bool {
	done, err := l.runner.RunEvent(ctx, &l.job, l.rs)
	if err != nil {
		l.SetState(openloop.LoopDone)
		l.shuttle.Report(Response{Err: err})
		return false
	}
	if done {
		l.SetState(openloop.LoopDone)
		l.shuttle.Report(Response{})
		return false
	}
	// Not done: ask for another tick right away. A real Runner would
	// set a later RunAt when it needs to wait on something external;
	// this substrate's consumed Runner is assumed CPU-bound per tick.
	l.SetRunAt(time.Time{})
	return true
}

func (l *OpenLoopQuery) Abandoned() {
	l.SetState(openloop.LoopDone)
	l.shuttle.Report(Response{Err: abandonedErr})
}

func (l *OpenLoopQuery) PartitionRemoved() {
	l.shuttle.Report(Response{Err: removedErr})
}

// OpenLoopSegment runs one partition's slice of a segment-definition
// query.
type OpenLoopSegment struct {
	openloop.BaseLoop
	job     SegmentJob
	runner  Runner
	rs      *resultset.ResultSet
	shuttle *shuttle.Shuttle[Response]
}

func newOpenLoopSegment(table string, partitionID int, sections []SegmentSection, runner Runner, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) *OpenLoopSegment {
	return &OpenLoopSegment{
		BaseLoop: openloop.NewBaseLoop(table),
		job: SegmentJob{Table: table, PartitionID: partitionID, Sections: sections},
		runner: runner, rs: rs, shuttle: sh,
	}
}

func (l *OpenLoopSegment) Run(ctx context.Context) bool {
	done, err := l.runner.RunSegment(ctx, &l.job, l.rs)
	if err != nil {
		l.SetState(openloop.LoopDone)
		l.shuttle.Report(Response{Err: err})
		return false
	}
	if done {
		l.SetState(openloop.LoopDone)
		l.shuttle.Report(Response{})
		return false
	}
	return true
}

func (l *OpenLoopSegment) Abandoned()        { l.SetState(openloop.LoopDone); l.shuttle.Report(Response{Err: abandonedErr}) }
func (l *OpenLoopSegment) PartitionRemoved() { l.shuttle.Report(Response{Err: removedErr}) }

// OpenLoopColumn runs one partition's slice of a column filter/tally
// query.
type OpenLoopColumn struct {
	openloop.BaseLoop
	job     ColumnJob
	runner  Runner
	rs      *resultset.ResultSet
	shuttle *shuttle.Shuttle[Response]
}

func newOpenLoopColumn(table string, partitionID int, filter ColumnFilter, bucket int64, segments []string, runner Runner, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) *OpenLoopColumn {
	return &OpenLoopColumn{
		BaseLoop: openloop.NewBaseLoop(table),
		job: ColumnJob{Table: table, PartitionID: partitionID, Filter: filter, Bucket: bucket, Segments: segments},
		runner: runner, rs: rs, shuttle: sh,
	}
}

func (l *OpenLoopColumn) Run(ctx context.Context) bool {
	done, err := l.runner.RunColumn(ctx, &l.job, l.rs)
	if err != nil {
		l.SetState(openloop.LoopDone)
		l.shuttle.Report(Response{Err: err})
		return false
	}
	if done {
		l.SetState(openloop.LoopDone)
		l.shuttle.Report(Response{})
		return false
	}
	return true
}

func (l *OpenLoopColumn) Abandoned()        { l.SetState(openloop.LoopDone); l.shuttle.Report(Response{Err: abandonedErr}) }
func (l *OpenLoopColumn) PartitionRemoved() { l.shuttle.Report(Response{Err: removedErr}) }

// OpenLoopHistogram runs one partition's slice of a histogram query.
type OpenLoopHistogram struct {
	openloop.BaseLoop
	job     HistogramJob
	runner  Runner
	rs      *resultset.ResultSet
	shuttle *shuttle.Shuttle[Response]
}

func newOpenLoopHistogram(table string, partitionID int, q CompiledQuery, bucket, min, max int64, foreach string, segments []string, runner Runner, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) *OpenLoopHistogram {
	return &OpenLoopHistogram{
		BaseLoop: openloop.NewBaseLoop(table),
		job: HistogramJob{Table: table, PartitionID: partitionID, Query: q, Bucket: bucket, Min: min, Max: max, Foreach: foreach, Segments: segments},
		runner: runner, rs: rs, shuttle: sh,
	}
}

func (l *OpenLoopHistogram) Run(ctx context.Context) bool {
	done, err := l.runner.RunHistogram(ctx, &l.job, l.rs)
	if err != nil {
		l.SetState(openloop.LoopDone)
		l.shuttle.Report(Response{Err: err})
		return false
	}
	if done {
		l.SetState(openloop.LoopDone)
		l.shuttle.Report(Response{})
		return false
	}
	return true
}

func (l *OpenLoopHistogram) Abandoned()        { l.SetState(openloop.LoopDone); l.shuttle.Report(Response{Err: abandonedErr}) }
func (l *OpenLoopHistogram) PartitionRemoved() { l.shuttle.Report(Response{Err: removedErr}) }

// OpenLoopPerson runs a single-partition person lookup, reporting into
// a single-slot Shuttle[PersonResponse] rather than a shared ResultSet.
type OpenLoopPerson struct {
	openloop.BaseLoop
	job     PersonJob
	runner  Runner
	shuttle *shuttle.Shuttle[PersonResponse]
}

func newOpenLoopPerson(table string, partitionID int, personID uint64, runner Runner, sh *shuttle.Shuttle[PersonResponse]) *OpenLoopPerson {
	return &OpenLoopPerson{
		BaseLoop: openloop.NewBaseLoop(table),
		job: PersonJob{Table: table, PartitionID: partitionID, PersonID: personID},
		runner: runner, shuttle: sh,
	}
}

func (l *OpenLoopPerson) Run(ctx context.Context) bool {
	rec, found, err := l.runner.RunPerson(ctx, &l.job)
	l.SetState(openloop.LoopDone)
	l.shuttle.Report(PersonResponse{Record: rec, Found: found, Err: err})
	return false
}

func (l *OpenLoopPerson) Abandoned() {
	l.SetState(openloop.LoopDone)
	l.shuttle.Report(PersonResponse{Err: abandonedErr})
}

func (l *OpenLoopPerson) PartitionRemoved() {
	l.shuttle.Report(PersonResponse{Err: removedErr})
}
