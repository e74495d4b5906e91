package query

// Stats is the narrow metrics surface a Coordinator reports into,
// mirroring scheduler.Stats's shape: a single method returning a
// completion closure, so the query package has no compile-time
// dependency on whichever metrics backend is wired in.
type Stats interface {
	// QueryStarted marks one originator query as in flight under
	// endpoint's name; the returned func must be called exactly once
	// with the query's outcome ("ok" or an error code) when it
	// completes.
	QueryStarted(endpoint string) func(outcome string)
}

type nopStats struct{}

func (nopStats) QueryStarted(string) func(string) { return func(string) {} }
