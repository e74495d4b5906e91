package query

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/semaphore"

	"github.com/perple-io/openset/errors"
	"github.com/perple-io/openset/openloop"
	"github.com/perple-io/openset/resultset"
	"github.com/perple-io/openset/shuttle"
)

// batchConcurrency bounds how many of a batch script's sections run at
// once, using a semaphore a goroutine blocks on directly rather than
// polling.
const batchConcurrency = 4

// batchSectionResult is one section's labeled outcome, keyed by its
// declared name ("_" output key or segment name).
type batchSectionResult struct {
	Name string
	Body []byte
	Err  error
}

// Batch compiles a multi-section script and runs its segment sections
// to completion first, then its query sections, each wave bounded by
// batchConcurrency concurrent sections in flight, assembling the
// results into one JSON object: each segment section's outcome under
// its segment name, and the query sections' results in an object under
// "_", keyed by section name.
func (c *Coordinator) Batch(ctx context.Context, req Request) (result Result, err error) {
	if err := c.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.release()
	done := c.stats.QueryStarted("batch")
	defer func() { done(outcomeOf(result, err)) }()

	if err := ValidateTable(c.schema, req.Table); err != nil {
		return errResult(err), nil
	}
	if err := ValidateScriptPresent(req.Script); err != nil {
		return errResult(err), nil
	}

	sections, err := c.compiler.CompileBatch(req.Table, req.Script)
	if err != nil {
		return errResult(err), nil
	}

	// Segments persist state the query sections below may read, so the
	// whole segment wave must finish -- and succeed -- before any query
	// section starts.
	var segments, queries []BatchSection
	for _, sec := range sections {
		if sec.Kind == "segment" {
			segments = append(segments, sec)
		} else {
			queries = append(queries, sec)
		}
	}

	segResults, err := c.runBatchWave(ctx, req, segments)
	if err != nil {
		return errResult(err), nil
	}
	queryResults, err := c.runBatchWave(ctx, req, queries)
	if err != nil {
		return errResult(err), nil
	}

	out := make(map[string]json.RawMessage, len(segResults)+1)
	for _, r := range segResults {
		out[r.Name] = r.Body
	}
	queryOut := make(map[string]json.RawMessage, len(queryResults))
	for _, r := range queryResults {
		queryOut[r.Name] = r.Body
	}
	queryBody, err := json.Marshal(queryOut)
	if err != nil {
		return Result{}, err
	}
	out["_"] = queryBody
	body, err := json.Marshal(out)
	if err != nil {
		return Result{}, err
	}
	return Result{StatusCode: 200, ContentType: "application/json", Body: body}, nil
}

// runBatchWave runs sections concurrently, capped at batchConcurrency
// in-flight, and returns as soon as every section completes. The first
// section to fail aborts the wave for the caller, who must not start
// the next wave.
func (c *Coordinator) runBatchWave(ctx context.Context, req Request, sections []BatchSection) ([]batchSectionResult, error) {
	if len(sections) == 0 {
		return nil, nil
	}

	sem := semaphore.NewWeighted(batchConcurrency)
	results := make([]batchSectionResult, len(sections))

	for i, sec := range sections {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func(i int, sec BatchSection) {
			defer sem.Release(1)
			results[i] = c.runBatchSection(ctx, req, sec)
		}(i, sec)
	}

	// Drain the semaphore back to full to know every section finished.
	if err := sem.Acquire(ctx, batchConcurrency); err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
	}
	return results, nil
}

func (c *Coordinator) runBatchSection(ctx context.Context, req Request, sec BatchSection) batchSectionResult {
	var mk makeLoop
	switch sec.Kind {
	case "segment":
		segs := []SegmentSection{{Name: sec.Name, Query: sec.Query}}
		mk = func(partitionID, workerID int, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) openloop.Loop {
			return newOpenLoopSegment(sec.Table, partitionID, segs, c.runner, rs, sh)
		}
	case "event":
		mk = func(partitionID, workerID int, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) openloop.Loop {
			return newOpenLoopQuery(sec.Table, partitionID, sec.Query, req.SessionTime, sec.Segments, c.runner, rs, sh)
		}
	case "column":
		mk = func(partitionID, workerID int, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) openloop.Loop {
			return newOpenLoopColumn(sec.Table, partitionID, req.Filter, 0, sec.Segments, c.runner, rs, sh)
		}
	case "histogram":
		mk = func(partitionID, workerID int, rs *resultset.ResultSet, sh *shuttle.Shuttle[Response]) openloop.Loop {
			return newOpenLoopHistogram(sec.Table, partitionID, sec.Query, req.Bucket, req.Min, req.Max, req.Foreach, sec.Segments, c.runner, rs, sh)
		}
	default:
		return batchSectionResult{Name: sec.Name, Err: errors.Newf(errors.CodeSyntaxError, "unknown batch section kind %q", sec.Kind)}
	}

	result, err := c.runEndpoint(ctx, req, "/v1/internal/batch-section", mk)
	if err != nil {
		return batchSectionResult{Name: sec.Name, Err: err}
	}
	if result.StatusCode >= 400 {
		if code, msg, ok := parseEmbeddedError(result.Body); ok {
			return batchSectionResult{Name: sec.Name, Err: errors.New(errors.Code(code), msg)}
		}
		return batchSectionResult{Name: sec.Name, Err: errors.Newf(errors.CodeGeneralError, "batch section %q failed", sec.Name)}
	}
	if sec.Kind == "segment" {
		// Segment sections persist their membership through the Runner
		// and contribute no queryable body of their own.
		return batchSectionResult{Name: sec.Name, Body: []byte("true")}
	}
	return batchSectionResult{Name: sec.Name, Body: result.Body}
}
