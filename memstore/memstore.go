// Package memstore is a reference Schema/Compiler/Runner implementation
// for cmd/opensetd: an in-memory table of per-person event timelines and
// a deliberately small script language, just enough to make the binary
// runnable end to end without a real columnar storage engine or script
// VM behind it. A production deployment swaps this package out for
// those, not the other way around -- the query package never imports
// memstore.
package memstore

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/perple-io/openset/errors"
	"github.com/perple-io/openset/query"
)

// Event is one timestamped fact on a person's timeline.
type Event struct {
	Time   int64
	Fields map[string]interface{}
}

// Person is one table's row: an identity plus its event timeline.
type Person struct {
	ID     uint64
	SID    string
	Events []Event
}

type table struct {
	columns  map[string]query.ColumnType
	segments map[string]int // name -> ttl seconds

	mu      sync.RWMutex
	persons map[uint64]*Person
	// segmentMembers records which persons RunSegment has assigned to
	// a named segment, populated by a prior Segment query and read back
	// by Segments filters on Event/Column/Histogram queries.
	segmentMembers map[string]map[uint64]bool
}

// Store holds every table this node serves, keyed by name. PartitionMax
// must match the cluster's Config.Cluster.PartitionMax: person-to-
// partition routing is personID % PartitionMax, the same rule the
// Coordinator's Person endpoint uses.
type Store struct {
	PartitionMax int

	mu     sync.RWMutex
	tables map[string]*table
}

// New constructs an empty Store.
func New(partitionMax int) *Store {
	return &Store{PartitionMax: partitionMax, tables: make(map[string]*table)}
}

// DefineTable registers table with its column types, creating it if
// absent and overwriting its column set if present. Segments are
// created lazily by SetSegmentTTL or by a Segment query's first run.
func (s *Store) DefineTable(name string, columns map[string]query.ColumnType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = &table{
		columns:        columns,
		segments:       make(map[string]int),
		persons:        make(map[uint64]*Person),
		segmentMembers: make(map[string]map[uint64]bool),
	}
}

// AddPerson inserts or replaces p's timeline within table.
func (s *Store) AddPerson(tableName string, p *Person) {
	s.mu.RLock()
	t, ok := s.tables[tableName]
	s.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	t.persons[p.ID] = p
	t.mu.Unlock()
}

func (s *Store) table(name string) *table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[name]
}

// partitionPersons returns t's persons whose ID routes to partitionID under
// s.PartitionMax.
func (s *Store) partitionPersons(t *table, partitionID int) []*Person {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Person
	for id, p := range t.persons {
		if s.PartitionMax <= 0 || int(id%uint64(s.PartitionMax)) == partitionID {
			out = append(out, p)
		}
	}
	return out
}

// --- Schema ---

// TableExists implements query.Schema.
func (s *Store) TableExists(name string) bool {
	return s.table(name) != nil
}

// ColumnType implements query.Schema.
func (s *Store) ColumnType(tableName, column string) (query.ColumnType, bool) {
	t := s.table(tableName)
	if t == nil {
		return 0, false
	}
	ct, ok := t.columns[column]
	return ct, ok
}

// SetSegmentTTL implements query.Schema.
func (s *Store) SetSegmentTTL(tableName, segment string, ttlSeconds int) error {
	t := s.table(tableName)
	if t == nil {
		return errors.Newf(errors.CodeGeneralError, "table not found: %q", tableName)
	}
	t.mu.Lock()
	t.segments[segment] = ttlSeconds
	t.mu.Unlock()
	return nil
}

func inSegments(t *table, personID uint64, segments []string) bool {
	if len(segments) == 0 {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, seg := range segments {
		if t.segmentMembers[seg][personID] {
			return true
		}
	}
	return false
}

func fieldValue(p *Person, column string) (interface{}, bool) {
	for i := len(p.Events) - 1; i >= 0; i-- {
		if v, ok := p.Events[i].Fields[column]; ok {
			return v, true
		}
	}
	return nil, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func matchesFilter(t *table, p *Person, filter query.ColumnFilter) bool {
	if filter.Mode == query.FilterAll {
		return true
	}
	v, ok := fieldValue(p, filter.Column)
	if !ok {
		return false
	}
	switch filter.Mode {
	case query.FilterEq:
		return toGroupKey(v) == filter.Value
	case query.FilterGt, query.FilterGte, query.FilterLt, query.FilterLte:
		fv, ok := asFloat(v)
		if !ok {
			return false
		}
		bound, err := strconv.ParseFloat(filter.Value, 64)
		if err != nil {
			return false
		}
		switch filter.Mode {
		case query.FilterGt:
			return fv > bound
		case query.FilterGte:
			return fv >= bound
		case query.FilterLt:
			return fv < bound
		default:
			return fv <= bound
		}
	case query.FilterBetween:
		fv, ok := asFloat(v)
		if !ok {
			return false
		}
		lo, err1 := strconv.ParseFloat(filter.Low, 64)
		hi, err2 := strconv.ParseFloat(filter.High, 64)
		return err1 == nil && err2 == nil && fv >= lo && fv <= hi
	case query.FilterSub:
		s, ok := v.(string)
		return ok && strings.Contains(s, filter.Value)
	case query.FilterRegex:
		// The regex itself was already validated and compiled by
		// query.ValidateColumnFilter on the originator; this runner
		// recompiles it since CompiledQuery/regexp are not carried over
		// the wire to fork recipients.
		re, err := regexp.Compile(filter.Regex)
		if err != nil {
			return false
		}
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}
	return false
}

// toGroupKey renders a field value as a ResultSet row key.
func toGroupKey(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// formatBucket renders a fixed-point histogram bucket boundary as a
// ResultSet row key.
func formatBucket(b int64) string {
	return strconv.FormatInt(b, 10)
}
