package query

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perple-io/openset/errors"
	"github.com/perple-io/openset/logger"
	"github.com/perple-io/openset/resultset"
	"github.com/perple-io/openset/scheduler"
	"github.com/perple-io/openset/topology"
)

type fakeCompiler struct {
	compileErr error
}

func (c *fakeCompiler) CompileScript(table, script string, vars Vars) (CompiledQuery, error) {
	if c.compileErr != nil {
		return nil, c.compileErr
	}
	return script, nil
}

func (c *fakeCompiler) CompileSegments(table, script string) ([]SegmentSection, error) {
	return []SegmentSection{{Name: "seg1", TTL: 60}}, nil
}

func (c *fakeCompiler) CompileBatch(table, script string) ([]BatchSection, error) {
	return nil, nil
}

// fakeRunner adds one "count" tally per partition it is asked to run,
// finishing every job on its first call.
type fakeRunner struct {
	eventErr error
	persons  map[uint64]PersonRecord
}

func (r *fakeRunner) RunEvent(ctx context.Context, job *EventJob, rs *resultset.ResultSet) (bool, error) {
	if r.eventErr != nil {
		return true, r.eventErr
	}
	rs.Add("total", "count", 1)
	return true, nil
}

func (r *fakeRunner) RunSegment(ctx context.Context, job *SegmentJob, rs *resultset.ResultSet) (bool, error) {
	rs.Add("segments", "count", 1)
	return true, nil
}

func (r *fakeRunner) RunColumn(ctx context.Context, job *ColumnJob, rs *resultset.ResultSet) (bool, error) {
	rs.Add(job.Filter.Value, "count", 1)
	return true, nil
}

func (r *fakeRunner) RunHistogram(ctx context.Context, job *HistogramJob, rs *resultset.ResultSet) (bool, error) {
	rs.Add("0", "count", 1)
	return true, nil
}

func (r *fakeRunner) RunPerson(ctx context.Context, job *PersonJob) (PersonRecord, bool, error) {
	rec, ok := r.persons[job.PersonID]
	return rec, ok, nil
}

func newTestCoordinator(t *testing.T, runner *fakeRunner, compiler *fakeCompiler, schema *fakeSchema, partitionMax int) (*Coordinator, *scheduler.Pool) {
	t.Helper()
	pool := scheduler.NewPool(2, logger.NopLogger, nil)
	pool.Start()
	t.Cleanup(pool.Stop)

	self := topology.Node{ID: "n0", URI: "local"}
	mapper := topology.NewStaticMapper(self, []topology.Node{self}, nil)

	c := NewCoordinator(self, mapper, pool, schema, compiler, runner, partitionMax, 0, logger.NopLogger, nil)
	return c, pool
}

func TestCoordinator_Event_MergesCountAcrossOwnedPartitions(t *testing.T) {
	schema := newFakeSchema()
	schema.addTable("events", nil)
	c, _ := newTestCoordinator(t, &fakeRunner{}, &fakeCompiler{}, schema, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := c.Event(ctx, Request{Table: "events", Script: "count()"})
	require.NoError(t, err)
	require.Equal(t, 200, result.StatusCode)

	var rows []struct {
		Group  string           `json:"key"`
		Values map[string]int64 `json:"values"`
	}
	require.NoError(t, json.Unmarshal(result.Body, &rows))
	require.Len(t, rows, 1)
	assert.EqualValues(t, 4, rows[0].Values["count"])
}

func TestCoordinator_Event_UnknownTableIsClientError(t *testing.T) {
	schema := newFakeSchema()
	c, _ := newTestCoordinator(t, &fakeRunner{}, &fakeCompiler{}, schema, 4)

	result, err := c.Event(context.Background(), Request{Table: "missing", Script: "count()"})
	require.NoError(t, err)
	assert.Equal(t, 400, result.StatusCode)

	code, msg, ok := parseEmbeddedError(result.Body)
	require.True(t, ok)
	assert.Equal(t, string(errors.CodeGeneralError), code)
	assert.Contains(t, msg, "missing")
}

func TestCoordinator_Event_CompileErrorIsClientError(t *testing.T) {
	schema := newFakeSchema()
	schema.addTable("events", nil)
	c, _ := newTestCoordinator(t, &fakeRunner{}, &fakeCompiler{compileErr: errors.New(errors.CodeSyntaxError, "bad script")}, schema, 4)

	result, err := c.Event(context.Background(), Request{Table: "events", Script: "bad("})
	require.NoError(t, err)
	assert.Equal(t, 400, result.StatusCode)
}

func TestCoordinator_Segment_SetsSegmentTTLBeforeRunning(t *testing.T) {
	schema := newFakeSchema()
	schema.addTable("events", nil)
	c, _ := newTestCoordinator(t, &fakeRunner{}, &fakeCompiler{}, schema, 2)

	result, err := c.Segment(context.Background(), Request{Table: "events", Script: "@segment seg1 ttl=60"})
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, 60, schema.segmentTTLs["events/seg1"])
}

func TestCoordinator_Column_UnknownColumnIsClientError(t *testing.T) {
	schema := newFakeSchema()
	schema.addTable("events", nil)
	c, _ := newTestCoordinator(t, &fakeRunner{}, &fakeCompiler{}, schema, 2)

	result, err := c.Column(context.Background(), Request{Table: "events", Column: "missing"})
	require.NoError(t, err)
	assert.Equal(t, 400, result.StatusCode)
}

func TestCoordinator_Person_FoundLocally(t *testing.T) {
	schema := newFakeSchema()
	schema.addTable("events", nil)
	runner := &fakeRunner{persons: map[uint64]PersonRecord{
		7: {PersonID: 7, Fields: map[string]interface{}{"name": "alice"}},
	}}
	c, _ := newTestCoordinator(t, runner, &fakeCompiler{}, schema, 4)

	result, err := c.Person(context.Background(), Request{Table: "events", PersonID: 7})
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Contains(t, string(result.Body), "alice")
}

func TestCoordinator_Person_NotFoundIs404(t *testing.T) {
	schema := newFakeSchema()
	schema.addTable("events", nil)
	c, _ := newTestCoordinator(t, &fakeRunner{persons: map[uint64]PersonRecord{}}, &fakeCompiler{}, schema, 4)

	result, err := c.Person(context.Background(), Request{Table: "events", PersonID: 99})
	require.NoError(t, err)
	assert.Equal(t, 404, result.StatusCode)
}

func TestCoordinator_Person_RequiresIDOrSID(t *testing.T) {
	schema := newFakeSchema()
	schema.addTable("events", nil)
	c, _ := newTestCoordinator(t, &fakeRunner{}, &fakeCompiler{}, schema, 4)

	result, err := c.Person(context.Background(), Request{Table: "events"})
	require.NoError(t, err)
	assert.Equal(t, 400, result.StatusCode)
}
