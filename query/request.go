package query

import (
	"encoding/json"

	"github.com/perple-io/openset/wire"
)

// Request is the Coordinator's endpoint-agnostic view of one query,
// whether it arrived from an HTTP client or from a peer's fork
// broadcast. The HTTP intake (ingress package) is responsible for
// building one of these from a net/http.Request; this package never
// parses raw query strings itself.
type Request struct {
	Table    string
	Script   string
	Column   string // /column/{name} or /histogram/{name}
	Fork     bool
	Debug    bool
	Trim     int
	Order    wire.SortOrder
	Sort     string
	SessionTime int64
	Segments []string
	Vars     Vars

	Filter ColumnFilter
	Bucket, Min, Max int64
	Foreach string

	PersonID  uint64
	PersonSID string

	// compiled is not set by the Coordinator and is not carried by
	// Encode: every node that runs the request, fork recipients
	// included, compiles Script itself (see wireRequest).
	compiled CompiledQuery
}

// WithFork returns a copy of r with Fork set, used by the originator to
// build the broadcast payload.
func (r Request) WithFork(fork bool) Request {
	r.Fork = fork
	return r
}

// wireRequest is Request's JSON projection. CompiledQuery is
// intentionally not carried over the wire: every fork recipient
// recompiles locally from Script/Vars, since CompiledQuery is an
// opaque, Compiler-implementation-specific type that may not even be
// serializable. This mirrors FeatureBase's own remoteExec, which ships
// the PQL query string, not an AST.
type wireRequest struct {
	Table       string     `json:"table"`
	Script      string     `json:"script,omitempty"`
	Column      string     `json:"column,omitempty"`
	Fork        bool       `json:"fork"`
	Debug       bool       `json:"debug,omitempty"`
	Trim        int        `json:"trim,omitempty"`
	Order       int        `json:"order,omitempty"`
	Sort        string     `json:"sort,omitempty"`
	SessionTime int64      `json:"session_time,omitempty"`
	Segments    []string   `json:"segments,omitempty"`
	Vars        Vars       `json:"vars,omitempty"`
	Filter      ColumnFilter `json:"filter,omitempty"`
	Bucket      int64      `json:"bucket,omitempty"`
	Min         int64      `json:"min,omitempty"`
	Max         int64      `json:"max,omitempty"`
	Foreach     string     `json:"foreach,omitempty"`
	PersonID    uint64     `json:"person_id,omitempty"`
	PersonSID   string     `json:"person_sid,omitempty"`
}

// Encode marshals r to the JSON body used both for fork broadcasts and
// for the person-lookup unicast. The JSON codec is an out-of-scope
// consumed interface; encoding/json is used directly here rather than
// through a pluggable Codec since nothing in this substrate needs more
// than one wire JSON shape.
func (r Request) Encode() []byte {
	wr := wireRequest{
		Table: r.Table, Script: r.Script, Column: r.Column, Fork: r.Fork,
		Debug: r.Debug, Trim: r.Trim, Order: int(r.Order), Sort: r.Sort,
		SessionTime: r.SessionTime, Segments: r.Segments, Vars: r.Vars,
		Filter: r.Filter, Bucket: r.Bucket, Min: r.Min, Max: r.Max,
		Foreach: r.Foreach, PersonID: r.PersonID, PersonSID: r.PersonSID,
	}
	b, _ := json.Marshal(wr)
	return b
}

// DecodeRequest reverses Encode, used by a fork recipient's HTTP intake
// to reconstruct the Request it must act on.
func DecodeRequest(body []byte) (Request, error) {
	var wr wireRequest
	if err := json.Unmarshal(body, &wr); err != nil {
		return Request{}, err
	}
	return Request{
		Table: wr.Table, Script: wr.Script, Column: wr.Column, Fork: wr.Fork,
		Debug: wr.Debug, Trim: wr.Trim, Order: wire.SortOrder(wr.Order), Sort: wr.Sort,
		SessionTime: wr.SessionTime, Segments: wr.Segments, Vars: wr.Vars,
		Filter: wr.Filter, Bucket: wr.Bucket, Min: wr.Min, Max: wr.Max,
		Foreach: wr.Foreach, PersonID: wr.PersonID, PersonSID: wr.PersonSID,
	}, nil
}

func (r Request) toJSONOptions() wire.ToJSONOptions {
	opts := wire.ToJSONOptions{SortColumn: r.Sort, Order: r.Order, Trim: r.Trim}
	if r.Bucket > 0 {
		opts.HistogramFill = &wire.HistogramFill{Bucket: r.Bucket, Min: r.Min, Max: r.Max}
	}
	return opts
}
