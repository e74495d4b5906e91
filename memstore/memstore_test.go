package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perple-io/openset/query"
)

func newPerson(id uint64, events ...Event) *Person {
	return &Person{ID: id, Events: events}
}

func TestStore_DefineTableAndTableExists(t *testing.T) {
	s := New(4)
	assert.False(t, s.TableExists("events"))

	s.DefineTable("events", map[string]query.ColumnType{"age": query.ColumnInt})
	assert.True(t, s.TableExists("events"))

	ct, ok := s.ColumnType("events", "age")
	require.True(t, ok)
	assert.Equal(t, query.ColumnInt, ct)

	_, ok = s.ColumnType("events", "missing")
	assert.False(t, ok)
}

func TestStore_ColumnType_UnknownTableIsNotFound(t *testing.T) {
	s := New(4)
	_, ok := s.ColumnType("missing", "age")
	assert.False(t, ok)
}

func TestStore_AddPerson_UnknownTableIsNoop(t *testing.T) {
	s := New(4)
	assert.NotPanics(t, func() {
		s.AddPerson("missing", newPerson(1))
	})
}

func TestStore_SetSegmentTTL_UnknownTableErrors(t *testing.T) {
	s := New(4)
	err := s.SetSegmentTTL("missing", "seg1", 60)
	assert.Error(t, err)
}

func TestStore_SetSegmentTTL_KnownTableOK(t *testing.T) {
	s := New(4)
	s.DefineTable("events", nil)
	err := s.SetSegmentTTL("events", "seg1", 60)
	assert.NoError(t, err)
}

func TestStore_PartitionPersons_RoutesByIDModPartitionMax(t *testing.T) {
	s := New(2)
	s.DefineTable("events", nil)
	s.AddPerson("events", newPerson(2))
	s.AddPerson("events", newPerson(3))

	t0 := s.table("events")
	p0 := s.partitionPersons(t0, 0)
	p1 := s.partitionPersons(t0, 1)
	require.Len(t, p0, 1)
	require.Len(t, p1, 1)
	assert.EqualValues(t, 2, p0[0].ID)
	assert.EqualValues(t, 3, p1[0].ID)
}

func TestStore_PartitionPersons_ZeroPartitionMaxReturnsEverything(t *testing.T) {
	s := New(0)
	s.DefineTable("events", nil)
	s.AddPerson("events", newPerson(2))
	s.AddPerson("events", newPerson(3))

	t0 := s.table("events")
	assert.Len(t, s.partitionPersons(t0, 0), 2)
}

func TestInSegments_EmptyListMeansEverybody(t *testing.T) {
	s := New(1)
	s.DefineTable("events", nil)
	tb := s.table("events")
	assert.True(t, inSegments(tb, 1, nil))
}

func TestInSegments_MembershipFollowsSegmentMembers(t *testing.T) {
	s := New(1)
	s.DefineTable("events", nil)
	tb := s.table("events")
	tb.segmentMembers["vip"] = map[uint64]bool{5: true}

	assert.True(t, inSegments(tb, 5, []string{"vip"}))
	assert.False(t, inSegments(tb, 6, []string{"vip"}))
	assert.False(t, inSegments(tb, 5, []string{"other"}))
}

func TestFieldValue_ReturnsMostRecentEventsValue(t *testing.T) {
	p := newPerson(1,
		Event{Time: 1, Fields: map[string]interface{}{"age": int64(30)}},
		Event{Time: 2, Fields: map[string]interface{}{"age": int64(31)}},
	)
	v, ok := fieldValue(p, "age")
	require.True(t, ok)
	assert.EqualValues(t, 31, v)
}

func TestFieldValue_MissingColumnIsNotFound(t *testing.T) {
	p := newPerson(1, Event{Fields: map[string]interface{}{"age": int64(30)}})
	_, ok := fieldValue(p, "name")
	assert.False(t, ok)
}

func TestAsFloat_SupportsNumericKinds(t *testing.T) {
	f, ok := asFloat(float64(1.5))
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)

	f, ok = asFloat(int64(3))
	assert.True(t, ok)
	assert.Equal(t, float64(3), f)

	f, ok = asFloat(3)
	assert.True(t, ok)
	assert.Equal(t, float64(3), f)

	_, ok = asFloat("not a number")
	assert.False(t, ok)
}

func TestMatchesFilter_FilterAllAlwaysMatches(t *testing.T) {
	tb := &table{}
	p := newPerson(1)
	assert.True(t, matchesFilter(tb, p, query.ColumnFilter{Mode: query.FilterAll}))
}

func TestMatchesFilter_Eq(t *testing.T) {
	tb := &table{}
	p := newPerson(1, Event{Fields: map[string]interface{}{"name": "bob"}})
	assert.True(t, matchesFilter(tb, p, query.ColumnFilter{Column: "name", Mode: query.FilterEq, Value: "bob"}))
	assert.False(t, matchesFilter(tb, p, query.ColumnFilter{Column: "name", Mode: query.FilterEq, Value: "alice"}))
}

func TestMatchesFilter_MissingColumnNeverMatches(t *testing.T) {
	tb := &table{}
	p := newPerson(1)
	assert.False(t, matchesFilter(tb, p, query.ColumnFilter{Column: "missing", Mode: query.FilterEq, Value: "x"}))
}

func TestMatchesFilter_Comparisons(t *testing.T) {
	tb := &table{}
	p := newPerson(1, Event{Fields: map[string]interface{}{"age": int64(30)}})

	assert.True(t, matchesFilter(tb, p, query.ColumnFilter{Column: "age", Mode: query.FilterGt, Value: "29"}))
	assert.False(t, matchesFilter(tb, p, query.ColumnFilter{Column: "age", Mode: query.FilterGt, Value: "30"}))
	assert.True(t, matchesFilter(tb, p, query.ColumnFilter{Column: "age", Mode: query.FilterGte, Value: "30"}))
	assert.True(t, matchesFilter(tb, p, query.ColumnFilter{Column: "age", Mode: query.FilterLt, Value: "31"}))
	assert.True(t, matchesFilter(tb, p, query.ColumnFilter{Column: "age", Mode: query.FilterLte, Value: "30"}))
}

func TestMatchesFilter_ComparisonBadBoundIsNoMatch(t *testing.T) {
	tb := &table{}
	p := newPerson(1, Event{Fields: map[string]interface{}{"age": int64(30)}})
	assert.False(t, matchesFilter(tb, p, query.ColumnFilter{Column: "age", Mode: query.FilterGt, Value: "not-a-number"}))
}

func TestMatchesFilter_Between(t *testing.T) {
	tb := &table{}
	p := newPerson(1, Event{Fields: map[string]interface{}{"age": int64(30)}})
	assert.True(t, matchesFilter(tb, p, query.ColumnFilter{Column: "age", Mode: query.FilterBetween, Low: "20", High: "40"}))
	assert.False(t, matchesFilter(tb, p, query.ColumnFilter{Column: "age", Mode: query.FilterBetween, Low: "31", High: "40"}))
}

func TestMatchesFilter_Substring(t *testing.T) {
	tb := &table{}
	p := newPerson(1, Event{Fields: map[string]interface{}{"name": "alexander"}})
	assert.True(t, matchesFilter(tb, p, query.ColumnFilter{Column: "name", Mode: query.FilterSub, Value: "exa"}))
	assert.False(t, matchesFilter(tb, p, query.ColumnFilter{Column: "name", Mode: query.FilterSub, Value: "zzz"}))
}

func TestMatchesFilter_Regex(t *testing.T) {
	tb := &table{}
	p := newPerson(1, Event{Fields: map[string]interface{}{"name": "alexander"}})
	assert.True(t, matchesFilter(tb, p, query.ColumnFilter{Column: "name", Mode: query.FilterRegex, Regex: "^a.*r$"}))
	assert.False(t, matchesFilter(tb, p, query.ColumnFilter{Column: "name", Mode: query.FilterRegex, Regex: "^z"}))
}

func TestMatchesFilter_BadRegexIsNoMatch(t *testing.T) {
	tb := &table{}
	p := newPerson(1, Event{Fields: map[string]interface{}{"name": "alexander"}})
	assert.False(t, matchesFilter(tb, p, query.ColumnFilter{Column: "name", Mode: query.FilterRegex, Regex: "("}))
}

func TestToGroupKey_RendersEachSupportedKind(t *testing.T) {
	assert.Equal(t, "bob", toGroupKey("bob"))
	assert.Equal(t, "1.5", toGroupKey(1.5))
	assert.Equal(t, "7", toGroupKey(int64(7)))
	assert.Equal(t, "true", toGroupKey(true))
	assert.Equal(t, "", toGroupKey(struct{}{}))
}

func TestFormatBucket_RendersInteger(t *testing.T) {
	assert.Equal(t, "10000", formatBucket(10000))
}
