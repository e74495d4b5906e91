package memstore

import (
	"context"

	"github.com/perple-io/openset/errors"
	"github.com/perple-io/openset/query"
	"github.com/perple-io/openset/resultset"
)

// RunEvent implements query.Runner. memstore holds each table's full
// timeline in memory already, so every job finishes in its first tick:
// there is nothing to page in from disk that would justify spreading
// the work across more than one Run call.
func (s *Store) RunEvent(ctx context.Context, job *query.EventJob, rs *resultset.ResultSet) (bool, error) {
	script, ok := job.Query.(Script)
	if !ok {
		return true, errors.New(errors.CodeGeneralError, "memstore: compiled query is not a memstore.Script")
	}
	t := s.table(job.Table)
	if t == nil {
		return true, errors.Newf(errors.CodeGeneralError, "table not found: %q", job.Table)
	}
	for _, p := range s.partitionPersons(t, job.PartitionID) {
		if !inSegments(t, p.ID, job.Segments) {
			continue
		}
		applyScript(rs, "_", script, p)
	}
	return true, nil
}

// RunSegment implements query.Runner: every declared section's
// membership is (re)computed from scratch each call, since memstore
// keeps no persistent index to update incrementally.
func (s *Store) RunSegment(ctx context.Context, job *query.SegmentJob, rs *resultset.ResultSet) (bool, error) {
	t := s.table(job.Table)
	if t == nil {
		return true, errors.Newf(errors.CodeGeneralError, "table not found: %q", job.Table)
	}
	persons := s.partitionPersons(t, job.PartitionID)
	for _, sec := range job.Sections {
		script, ok := sec.Query.(Script)
		if !ok {
			return true, errors.New(errors.CodeGeneralError, "memstore: compiled query is not a memstore.Script")
		}
		members := make(map[uint64]bool)
		for _, p := range persons {
			if scriptCount(script, p) > 0 {
				members[p.ID] = true
			}
		}
		t.mu.Lock()
		if t.segmentMembers[sec.Name] == nil {
			t.segmentMembers[sec.Name] = make(map[uint64]bool)
		}
		// Drop this partition's prior membership before recomputing it;
		// other partitions' entries are untouched.
		for id := range t.segmentMembers[sec.Name] {
			if int(id%uint64(maxInt(s.PartitionMax, 1))) == job.PartitionID {
				delete(t.segmentMembers[sec.Name], id)
			}
		}
		for id := range members {
			t.segmentMembers[sec.Name][id] = true
		}
		t.mu.Unlock()
		rs.Add(sec.Name, "count", int64(len(members)))
	}
	return true, nil
}

// RunColumn implements query.Runner: a single-column filter/tally,
// grouped by the filtered column's own value.
func (s *Store) RunColumn(ctx context.Context, job *query.ColumnJob, rs *resultset.ResultSet) (bool, error) {
	t := s.table(job.Table)
	if t == nil {
		return true, errors.Newf(errors.CodeGeneralError, "table not found: %q", job.Table)
	}
	for _, p := range s.partitionPersons(t, job.PartitionID) {
		if !inSegments(t, p.ID, job.Segments) {
			continue
		}
		if !matchesFilter(t, p, job.Filter) {
			continue
		}
		v, ok := fieldValue(p, job.Filter.Column)
		group := "_"
		if ok {
			group = toGroupKey(v)
		}
		rs.Add(group, "count", 1)
	}
	return true, nil
}

// RunHistogram implements query.Runner: persons are bucketed by the
// compiled script's sum/count value. A sum is scaled by 10,000 to match
// the rest of the substrate's fixed-point convention; a count is the
// raw number of events.
func (s *Store) RunHistogram(ctx context.Context, job *query.HistogramJob, rs *resultset.ResultSet) (bool, error) {
	script, ok := job.Query.(Script)
	if !ok {
		return true, errors.New(errors.CodeGeneralError, "memstore: compiled query is not a memstore.Script")
	}
	t := s.table(job.Table)
	if t == nil {
		return true, errors.Newf(errors.CodeGeneralError, "table not found: %q", job.Table)
	}
	bucket := job.Bucket
	if bucket <= 0 {
		bucket = 10000
	}
	for _, p := range s.partitionPersons(t, job.PartitionID) {
		if !inSegments(t, p.ID, job.Segments) {
			continue
		}
		v := scriptValue(script, p)
		if job.Max > job.Min && (v < job.Min || v > job.Max) {
			continue
		}
		b := (v / bucket) * bucket
		rs.Add(formatBucket(b), "count", 1)
	}
	return true, nil
}

// RunPerson implements query.Runner: a single person lookup within the
// job's already-resolved partition.
func (s *Store) RunPerson(ctx context.Context, job *query.PersonJob) (query.PersonRecord, bool, error) {
	t := s.table(job.Table)
	if t == nil {
		return query.PersonRecord{}, false, errors.Newf(errors.CodeGeneralError, "table not found: %q", job.Table)
	}
	t.mu.RLock()
	p, ok := t.persons[job.PersonID]
	t.mu.RUnlock()
	if !ok {
		return query.PersonRecord{}, false, nil
	}
	fields := make(map[string]interface{})
	for _, ev := range p.Events {
		for k, v := range ev.Fields {
			fields[k] = v
		}
	}
	return query.PersonRecord{PersonID: p.ID, Fields: fields}, true, nil
}

func applyScript(rs *resultset.ResultSet, group string, script Script, p *Person) {
	switch script.Op {
	case "count":
		rs.Add(group, "count", int64(len(p.Events)))
	case "sum":
		var total float64
		for _, ev := range p.Events {
			if v, ok := ev.Fields[script.Column]; ok {
				f, _ := asFloat(v)
				total += f
			}
		}
		rs.Add(group, "sum_"+script.Column, int64(total*10000))
	}
}

func scriptCount(script Script, p *Person) int64 {
	switch script.Op {
	case "count":
		return int64(len(p.Events))
	case "sum":
		return int64(scriptValue(script, p))
	}
	return 0
}

func scriptValue(script Script, p *Person) int64 {
	switch script.Op {
	case "count":
		return int64(len(p.Events))
	case "sum":
		var total float64
		for _, ev := range p.Events {
			if v, ok := ev.Fields[script.Column]; ok {
				f, _ := asFloat(v)
				total += f
			}
		}
		return int64(total * 10000)
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
