// Package resultset implements the worker-thread-local aggregation
// buffer (ResultSet). Because partitions assigned to the same worker
// execute strictly serially, one ResultSet per worker suffices for all
// of that worker's partitions, so this type carries no internal
// locking.
package resultset

// Row is one (group) bucket's tallies across one or more columns.
// "group" is typically a row key (a segment name, a histogram bucket
// boundary, a column value) depending on which endpoint produced it.
type Row struct {
	Group  string
	Values map[string]int64
}

// ResultSet is an opaque, worker-thread-local aggregation buffer keyed
// by (group, column). It is never shared across workers.
type ResultSet struct {
	rows  map[string]*Row
	order []string
}

// New returns an empty ResultSet.
func New() *ResultSet {
	return &ResultSet{rows: make(map[string]*Row)}
}

// Add accumulates delta into (group, column), creating the row on
// first use. Values for int/double columns are fixed-point scaled by
// 10,000 by the caller (the Query Coordinator); ResultSet itself is
// agnostic to the scale.
func (r *ResultSet) Add(group, column string, delta int64) {
	row, ok := r.rows[group]
	if !ok {
		row = &Row{Group: group, Values: make(map[string]int64)}
		r.rows[group] = row
		r.order = append(r.order, group)
	}
	row.Values[column] += delta
}

// Rows returns every row in first-write order.
func (r *ResultSet) Rows() []*Row {
	out := make([]*Row, 0, len(r.order))
	for _, g := range r.order {
		out = append(out, r.rows[g])
	}
	return out
}

// Len reports how many distinct groups this ResultSet holds.
func (r *ResultSet) Len() int { return len(r.order) }

// Merge folds other's rows into r, adding values for groups/columns
// that already exist in r. Used both by a single node merging its
// per-worker ResultSets and by the originator merging per-node
// ResultSets after fork. Merging N worker ResultSets must produce the
// same result as merging any other partitioning of the same input
// rows, which holds here because Merge is commutative and associative
// (plain addition).
func (r *ResultSet) Merge(other *ResultSet) {
	if other == nil {
		return
	}
	for _, g := range other.order {
		row := other.rows[g]
		for col, v := range row.Values {
			r.Add(g, col, v)
		}
	}
}

// MergeAll merges a slice of ResultSets into a new ResultSet, used by
// the Coordinator's act-as-fork path to fold the worker_count
// per-worker ResultSets the Shuttle collected into one before
// serializing to the inter-node wire form.
func MergeAll(sets []*ResultSet) *ResultSet {
	out := New()
	for _, s := range sets {
		out.Merge(s)
	}
	return out
}
