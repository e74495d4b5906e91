// Package shuttle implements the fan-in correlator (C4): it collects a
// fixed number of partial responses and invokes its completion callback
// exactly once, handing the callback ownership of the response buffer
// and the Shuttle's own lifetime. Grounded on FeatureBase's
// mapReduce/mapper/mapResponse pattern in executor.go, generalized from
// "one mapReduce call per query" into a reusable, explicitly
// constructed, explicitly released type so Open-Loops (not goroutines
// closed over a channel) can report to it across scheduler ticks.
package shuttle

import (
	"sync"

	"github.com/perple-io/openset/message"
)

// OnComplete is invoked exactly once, when the expected number of
// responses has arrived. It owns responses and msg for the duration of
// the call and must call release exactly once -- typically after using
// responses to build and send a reply via msg.
type OnComplete[T any] func(responses []T, msg message.Message, release func())

// Shuttle is the fan-in correlator that accumulates per-partition
// replies until every expected reporter has responded, then invokes
// OnComplete exactly once. The zero value is not usable; construct
// with New.
//
// Shuttle[T] with expected==1 doubles as the lighter variant used for
// single-partition person lookups -- Go generics make that variant free
// rather than requiring a second type.
type Shuttle[T any] struct {
	msg      message.Message
	expected int

	mu         sync.Mutex
	responses  []T
	received   int
	onComplete OnComplete[T]
	completed  bool // guards at-most-once invocation
	released   bool // guards at-most-once release
}

// New constructs a Shuttle expecting exactly expected responses before
// onComplete fires.
func New[T any](msg message.Message, expected int, onComplete OnComplete[T]) *Shuttle[T] {
	return &Shuttle[T]{
		msg:        msg,
		expected:   expected,
		responses:  make([]T, 0, expected),
		onComplete: onComplete,
	}
}

// NewSingle is New with expected==1, documenting the person-lookup
// call site's intent.
func NewSingle[T any](msg message.Message, onComplete OnComplete[T]) *Shuttle[T] {
	return New(msg, 1, onComplete)
}

// Expected returns the fixed total this Shuttle awaits.
func (s *Shuttle[T]) Expected() int { return s.expected }

// Report appends response to the accumulated set. Ordering is arrival
// order; callers must not assume partition order. Once the expected
// count is reached, onComplete is detached and invoked outside the
// lock exactly once, with the accumulated responses, the original
// message, and a release capability that frees this Shuttle.
//
// Calling Report after completion is a precondition violation that
// should never happen; it is reported to the Shuttle's logger-free
// diagnostic path by panicking, since it is a programmer error rather
// than a recoverable runtime condition.
func (s *Shuttle[T]) Report(response T) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		panic("shuttle: Report called after completion")
	}

	s.responses = append(s.responses, response)
	s.received++
	fire := s.received == s.expected
	if fire {
		s.completed = true
	}
	responses := s.responses
	onComplete := s.onComplete
	s.mu.Unlock()

	if fire {
		onComplete(responses, s.msg, s.release)
	}
}

// Received reports how many responses have arrived so far.
func (s *Shuttle[T]) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// release frees this Shuttle's response buffer. It is idempotent so a
// callback that calls it more than once (a bug, but not a catastrophic
// one) does not double-free anything observable.
func (s *Shuttle[T]) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.responses = nil
}

// Message returns the originating request handle, for loops that need
// to inspect it (e.g. to check context cancellation) without reporting.
func (s *Shuttle[T]) Message() message.Message { return s.msg }
