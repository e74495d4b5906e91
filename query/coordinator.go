package query

import (
	"context"
	"encoding/json"

	"github.com/perple-io/openset/errors"
	"github.com/perple-io/openset/logger"
	"github.com/perple-io/openset/message"
	"github.com/perple-io/openset/openloop"
	"github.com/perple-io/openset/resultset"
	"github.com/perple-io/openset/scheduler"
	"github.com/perple-io/openset/shuttle"
	"github.com/perple-io/openset/topology"
	"github.com/perple-io/openset/wire"
)

// abandonedErr and removedErr are the terminal errors an Open-Loop
// reports to its Shuttle when it is purged by table drop or stranded
// by partition reassignment, respectively, rather than completing
// normally. Both surface to the client as a route_error: the query as
// submitted can no longer be answered by this node, and a retry may
// succeed against whichever node now owns the work.
var (
	abandonedErr = errors.New(errors.CodeRouteError, "query abandoned: table dropped mid-query")
	removedErr   = errors.New(errors.CodeRouteError, "query abandoned: partition reassigned mid-query")
)

// makeLoop constructs the act-as-fork Open-Loop for one owned
// partition, given the worker it will run on and the ResultSet (or
// person Shuttle, for lookups) it reports into.
type makeLoop func(partitionID, workerID int, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) openloop.Loop

// Coordinator is the Query Coordinator (C6): it validates and compiles
// incoming requests, decides whether to fork them across the cluster,
// enumerates this node's owned partitions into Open-Loops, and
// assembles the final reply. Grounded on FeatureBase's executor.go
// (Execute/mapReduce) and http_handler.go's per-endpoint handlers.
type Coordinator struct {
	self topology.Node
	mapper topology.Mapper
	pool *scheduler.Pool
	schema Schema
	compiler Compiler
	runner Runner
	log logger.Logger
	stats Stats

	// partitionMax is the fixed total partition count for this cluster,
	// set once at startup.
	partitionMax int

	// querySem bounds concurrently in-flight originator queries to
	// Config.Ingress.MaxConcurrentQueries, replacing a hard-coded
	// "running queries >= 3" check with a configurable one.
	querySem chan struct{}
}

// NewCoordinator constructs a Coordinator. maxConcurrentQueries <= 0
// disables the cap (unbounded).
func NewCoordinator(self topology.Node, mapper topology.Mapper, pool *scheduler.Pool, schema Schema, compiler Compiler, runner Runner, partitionMax, maxConcurrentQueries int, log logger.Logger, stats Stats) *Coordinator {
	var sem chan struct{}
	if maxConcurrentQueries > 0 {
		sem = make(chan struct{}, maxConcurrentQueries)
	}
	if stats == nil {
		stats = nopStats{}
	}
	return &Coordinator{
		self: self, mapper: mapper, pool: pool, schema: schema,
		compiler: compiler, runner: runner, log: log, stats: stats,
		partitionMax: partitionMax, querySem: sem,
	}
}

func (c *Coordinator) acquire(ctx context.Context) error {
	if c.querySem == nil {
		return nil
	}
	select {
	case c.querySem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() {
	if c.querySem == nil {
		return
	}
	<-c.querySem
}

// Event runs an event-script query.
func (c *Coordinator) Event(ctx context.Context, req Request) (result Result, err error) {
	if err := c.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.release()
	done := c.stats.QueryStarted("event")
	defer func() { done(outcomeOf(result, err)) }()

	if err := ValidateTable(c.schema, req.Table); err != nil {
		return errResult(err), nil
	}
	if err := ValidateScriptPresent(req.Script); err != nil {
		return errResult(err), nil
	}
	if err := ValidateSortColumn(c.schema, req.Table, req.Sort); err != nil {
		return errResult(err), nil
	}

	compiled, err := c.compiler.CompileScript(req.Table, req.Script, req.Vars)
	if err != nil {
		return errResult(err), nil
	}

	loop := func(partitionID, workerID int, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) openloop.Loop {
		return newOpenLoopQuery(req.Table, partitionID, compiled, req.SessionTime, req.Segments, c.runner, rs, sh)
	}
	return c.runEndpoint(ctx, req, "/v1/internal/event", loop)
}

// Segment compiles and runs a segment-definition script, writing each
// section's persistent TTL before running.
func (c *Coordinator) Segment(ctx context.Context, req Request) (result Result, err error) {
	if err := c.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.release()
	done := c.stats.QueryStarted("segment")
	defer func() { done(outcomeOf(result, err)) }()

	if err := ValidateTable(c.schema, req.Table); err != nil {
		return errResult(err), nil
	}
	if err := ValidateScriptPresent(req.Script); err != nil {
		return errResult(err), nil
	}

	sections, err := c.compiler.CompileSegments(req.Table, req.Script)
	if err != nil {
		return errResult(err), nil
	}
	for _, s := range sections {
		if s.TTL > 0 {
			if err := c.schema.SetSegmentTTL(req.Table, s.Name, s.TTL); err != nil {
				return errResult(err), nil
			}
		}
	}

	loop := func(partitionID, workerID int, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) openloop.Loop {
		return newOpenLoopSegment(req.Table, partitionID, sections, c.runner, rs, sh)
	}
	return c.runEndpoint(ctx, req, "/v1/internal/segment", loop)
}

// Column runs a single-column filter/tally query.
func (c *Coordinator) Column(ctx context.Context, req Request) (result Result, err error) {
	if err := c.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.release()
	done := c.stats.QueryStarted("column")
	defer func() { done(outcomeOf(result, err)) }()

	if err := ValidateTable(c.schema, req.Table); err != nil {
		return errResult(err), nil
	}
	// The compiled regexp itself is not carried over the wire: each fork
	// recipient recompiles it from filter.Regex in its own Runner.
	if _, err := ValidateColumnFilter(c.schema, req.Table, req.Column, req.Filter); err != nil {
		return errResult(err), nil
	}
	filter := req.Filter
	filter.Column = req.Column

	loop := func(partitionID, workerID int, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) openloop.Loop {
		return newOpenLoopColumn(req.Table, partitionID, filter, 0, req.Segments, c.runner, rs, sh)
	}
	return c.runEndpoint(ctx, req, "/v1/internal/column", loop)
}

// Histogram runs a bucketed numeric query, filling contiguous empty
// buckets on the originator after merge.
func (c *Coordinator) Histogram(ctx context.Context, req Request) (result Result, err error) {
	if err := c.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.release()
	done := c.stats.QueryStarted("histogram")
	defer func() { done(outcomeOf(result, err)) }()

	if err := ValidateTable(c.schema, req.Table); err != nil {
		return errResult(err), nil
	}
	if err := ValidateScriptPresent(req.Script); err != nil {
		return errResult(err), nil
	}

	compiled, err := c.compiler.CompileScript(req.Table, req.Script, req.Vars)
	if err != nil {
		return errResult(err), nil
	}

	loop := func(partitionID, workerID int, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) openloop.Loop {
		return newOpenLoopHistogram(req.Table, partitionID, compiled, req.Bucket, req.Min, req.Max, req.Foreach, req.Segments, c.runner, rs, sh)
	}
	return c.runEndpoint(ctx, req, "/v1/internal/histogram", loop)
}

// Person resolves a single person lookup by deterministic partition
// routing (id mod PartitionMax), never forking to every node: exactly
// one node owns the answer.
func (c *Coordinator) Person(ctx context.Context, req Request) (result Result, err error) {
	done := c.stats.QueryStarted("person")
	defer func() { done(outcomeOf(result, err)) }()

	if err := ValidateTable(c.schema, req.Table); err != nil {
		return errResult(err), nil
	}
	if err := ValidatePerson(req.PersonID, req.PersonSID); err != nil {
		return errResult(err), nil
	}

	partitionID := int(req.PersonID % uint64(c.partitionMax))
	owner := c.mapper.OwnerOf(partitionID, c.partitionMax)

	if owner.ID == c.mapper.Self().ID {
		return c.personLocal(ctx, req.Table, partitionID, req.PersonID)
	}

	resp := c.mapper.Unicast(ctx, owner, nil, "GET", "/v1/internal/person", nil, req.Encode())
	if resp.Err != nil {
		return errResult(errors.Newf(errors.CodeRouteError, "person lookup: %v", resp.Err)), nil
	}
	if resp.StatusCode >= 400 {
		if code, msg, ok := parseEmbeddedError(resp.Body); ok {
			return Result{StatusCode: resp.StatusCode, ContentType: "application/json", Body: mustErrorBody(code, msg)}, nil
		}
		return errResult(errors.New(errors.CodeInternodeError, "person lookup: peer returned an error")), nil
	}
	return Result{StatusCode: 200, ContentType: "application/json", Body: resp.Body}, nil
}

func (c *Coordinator) personLocal(ctx context.Context, table string, partitionID int, personID uint64) (Result, error) {
	msg := &noopMessage{ctx: ctx}
	doneCh := make(chan struct{})
	var result PersonResponse
	sh := shuttle.NewSingle[PersonResponse](msg, func(responses []PersonResponse, _ message.Message, release func()) {
		result = responses[0]
		release()
		close(doneCh)
	})

	loop := newOpenLoopPerson(table, partitionID, personID, c.runner, sh)
	c.pool.Partition(partitionID).QueueCell(loop)

	select {
	case <-doneCh:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if result.Err != nil {
		return errResult(result.Err), nil
	}
	if !result.Found {
		return newErrorResult(404, string(errors.CodeGeneralError), "person not found"), nil
	}
	body, err := encodePersonRecord(result.Record)
	if err != nil {
		return Result{}, err
	}
	return Result{StatusCode: 200, ContentType: "application/json", Body: body}, nil
}

// runLocal enumerates this node's owned partitions, runs makeLoop on
// each via the Worker Pool, and blocks until every partition has
// reported to a shared Shuttle, then merges each worker's ResultSet
// into one. This is both the originator's act-as-fork branch and what
// a fork recipient calls directly when it is itself the target.
func (c *Coordinator) runLocal(ctx context.Context, mk makeLoop) (*resultset.ResultSet, error) {
	partitions := c.mapper.OwnedPartitions(c.partitionMax)
	if len(partitions) == 0 {
		return resultset.New(), nil
	}

	workerCount := c.pool.WorkerCount()
	resultSets := make([]*resultset.ResultSet, workerCount)
	for i := range resultSets {
		resultSets[i] = resultset.New()
	}

	msg := &noopMessage{ctx: ctx}
	doneCh := make(chan struct{})
	var firstErr error
	sh := shuttle.New[Response](msg, len(partitions), func(responses []Response, _ message.Message, release func()) {
		for _, r := range responses {
			if r.Err != nil && firstErr == nil {
				firstErr = r.Err
			}
		}
		release()
		close(doneCh)
	})

	for _, pid := range partitions {
		wid := c.pool.WorkerIDFor(pid)
		loop := mk(pid, wid, resultSets[wid], sh)
		c.pool.Partition(pid).QueueCell(loop)
	}

	select {
	case <-doneCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return resultset.MergeAll(resultSets), nil
}

// runEndpoint implements the fork decision shared by every
// ResultSet-producing endpoint: a fork recipient just runs its own
// owned partitions and replies with the binary wire form; the
// originator broadcasts to the whole cluster (substituting a direct
// runLocal call for its own node) and assembles client-facing JSON
// from the replies.
func (c *Coordinator) runEndpoint(ctx context.Context, req Request, path string, mk makeLoop) (Result, error) {
	if req.Fork {
		merged, err := c.runLocal(ctx, mk)
		if err != nil {
			return errResult(err), nil
		}
		body, err := wire.Encode(merged)
		if err != nil {
			return Result{}, err
		}
		return Result{StatusCode: 200, ContentType: "application/octet-stream", Body: body}, nil
	}

	localFn := func(ctx context.Context) (int, []byte, error) {
		merged, err := c.runLocal(ctx, mk)
		if err != nil {
			return 0, nil, err
		}
		body, err := wire.Encode(merged)
		if err != nil {
			return 0, nil, err
		}
		return 200, body, nil
	}

	forked := req.WithFork(true)
	responses := c.mapper.Broadcast(ctx, localFn, "POST", path, nil, forked.Encode())

	buffers := make([][]byte, 0, len(responses))
	for _, r := range responses {
		if r.Err != nil {
			return errResult(errors.Newf(errors.CodeRouteError, "node %s: %v", r.Node.ID, r.Err)), nil
		}
		if r.StatusCode >= 400 {
			if code, msg, ok := parseEmbeddedError(r.Body); ok {
				return Result{StatusCode: r.StatusCode, ContentType: "application/json", Body: mustErrorBody(code, msg)}, nil
			}
			return errResult(errors.Newf(errors.CodeRouteError, "node %s returned status %d", r.Node.ID, r.StatusCode)), nil
		}
		if len(r.Body) == 0 {
			return errResult(errors.Newf(errors.CodeInternodeError, "node %s returned an empty body", r.Node.ID)), nil
		}
		buffers = append(buffers, r.Body)
	}

	body, err := wire.ToJSON(buffers, req.toJSONOptions())
	if err != nil {
		return Result{}, err
	}
	return Result{StatusCode: 200, ContentType: "application/json", Body: body}, nil
}

// outcomeOf derives a Stats outcome label from an endpoint's final
// Result/error pair: "ok" for a 2xx, the coded error class otherwise.
func outcomeOf(result Result, err error) string {
	if err != nil {
		if code, ok := errors.CodeOf(err); ok {
			return string(code)
		}
		return "error"
	}
	if result.StatusCode >= 400 {
		if code, msg, ok := parseEmbeddedError(result.Body); ok {
			_ = msg
			return code
		}
		return "error"
	}
	return "ok"
}

func errResult(err error) Result {
	code, ok := errors.CodeOf(err)
	if !ok {
		code = errors.CodeGeneralError
	}
	return newErrorResult(400, string(code), err.Error())
}

func mustErrorBody(code, message string) []byte {
	var eb errorBody
	eb.Error.Code, eb.Error.Message = code, message
	b, _ := json.Marshal(eb)
	return b
}
