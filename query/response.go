package query

import (
	"context"
	"encoding/json"
)

// Response is reported to a Shuttle by the ResultSet-writing
// Open-Loops (event/segment/column/histogram): the accumulation itself
// lives in the worker-local ResultSet, so the Shuttle only needs to
// know whether each partition finished cleanly.
type Response struct {
	Err error
}

// PersonResponse is reported by OpenLoopPerson, which (unlike the
// other endpoints) produces a value directly rather than writing into
// a shared ResultSet.
type PersonResponse struct {
	Record PersonRecord
	Found  bool
	Err    error
}

// Result is the Coordinator's endpoint-agnostic reply: either a
// forked node's binary wire body, or the originator's merged JSON.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// errorBody is the shape of a 4xx JSON error reply, keyed under
// "/error" for forked responses.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newErrorResult(statusCode int, code, message string) Result {
	var eb errorBody
	eb.Error.Code = code
	eb.Error.Message = message
	body, _ := json.Marshal(eb)
	return Result{StatusCode: statusCode, ContentType: "application/json", Body: body}
}

// parseEmbeddedError tries to decode a 4xx peer body as errorBody,
// returning (code, message, true) on success.
func parseEmbeddedError(body []byte) (code, message string, ok bool) {
	var eb errorBody
	if len(body) == 0 {
		return "", "", false
	}
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error.Code == "" {
		return "", "", false
	}
	return eb.Error.Code, eb.Error.Message, true
}

// encodePersonRecord marshals a PersonRecord for a person lookup's
// client-facing JSON reply.
func encodePersonRecord(rec PersonRecord) ([]byte, error) {
	return json.Marshal(struct {
		PersonID uint64                 `json:"person_id"`
		Fields   map[string]interface{} `json:"fields"`
	}{PersonID: rec.PersonID, Fields: rec.Fields})
}

// noopMessage is the message.Message used for the synchronous,
// purely-local fan-in inside runLocal: its Reply is never actually
// sent anywhere because runLocal blocks on the Shuttle's completion
// channel and builds its own Result directly, rather than letting the
// Shuttle callback write an HTTP response itself.
type noopMessage struct {
	ctx context.Context
}

func (m *noopMessage) Context() context.Context { return m.ctx }
func (m *noopMessage) Reply(status int, contentType string, body []byte) error { return nil }
