package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perple-io/openset/wire"
)

func TestRequest_EncodeDecodeRoundTrip(t *testing.T) {
	req := Request{
		Table: "events", Script: "count()", Column: "age", Fork: true,
		Debug: true, Trim: 10, Order: wire.SortDesc, Sort: "count",
		SessionTime: 123, Segments: []string{"a", "b"},
		Vars: Vars{"x": "y"}, Filter: ColumnFilter{Mode: FilterGt, Value: "5"},
		Bucket: 100, Min: 0, Max: 1000, Foreach: "category",
		PersonID: 7, PersonSID: "sid-1",
	}

	decoded, err := DecodeRequest(req.Encode())
	require.NoError(t, err)

	assert.Equal(t, req.Table, decoded.Table)
	assert.Equal(t, req.Script, decoded.Script)
	assert.Equal(t, req.Column, decoded.Column)
	assert.Equal(t, req.Fork, decoded.Fork)
	assert.Equal(t, req.Debug, decoded.Debug)
	assert.Equal(t, req.Trim, decoded.Trim)
	assert.Equal(t, req.Order, decoded.Order)
	assert.Equal(t, req.Sort, decoded.Sort)
	assert.Equal(t, req.SessionTime, decoded.SessionTime)
	assert.Equal(t, req.Segments, decoded.Segments)
	assert.Equal(t, req.Filter, decoded.Filter)
	assert.Equal(t, req.Bucket, decoded.Bucket)
	assert.Equal(t, req.Foreach, decoded.Foreach)
	assert.Equal(t, req.PersonID, decoded.PersonID)
	assert.Equal(t, req.PersonSID, decoded.PersonSID)
}

func TestRequest_WithForkDoesNotMutateOriginal(t *testing.T) {
	orig := Request{Table: "events"}
	forked := orig.WithFork(true)

	assert.False(t, orig.Fork)
	assert.True(t, forked.Fork)
}

func TestRequest_DecodeInvalidJSONErrors(t *testing.T) {
	_, err := DecodeRequest([]byte("not json"))
	assert.Error(t, err)
}
