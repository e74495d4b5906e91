// Package message defines the narrow handle a Shuttle uses to reply to
// (or be released by) the client request that spawned it.
package message

import "context"

// Message is the originating client request handle a Shuttle's
// completion callback replies to, or releases without replying (e.g.
// for a fork request, where the reply is binary and goes to the
// requesting node rather than the original HTTP client).
type Message interface {
	// Context is the request's context, used to detect client
	// disconnect. A disconnect does not cancel the underlying compute --
	// it only means the reply will be dropped.
	Context() context.Context

	// Reply sends the final response exactly once. contentType is
	// either "application/json" (non-forked replies) or
	// "application/octet-stream" (forked, inter-node wire replies).
	Reply(status int, contentType string, body []byte) error
}
