// Package traces defines the boundary between the statistical core and
// whatever produces trace data: a waveform decoder, a capture rig, or
// a simulator. A Source hands out traces lazily and exactly once;
// restarting requires re-opening the underlying source.
package traces

// Trace is one captured or simulated execution: a fixed-length vector
// of samples tagged with the comparison class it belongs to. Traces
// are transient; the core consumes them and never stores them whole.
type Trace struct {
	Class   string
	Samples []float64
}

// Source is a lazy, finite, forward-only sequence of traces. Next
// returns nil when the source is exhausted or has failed; sources
// report their own failure state through Err.
type Source interface {
	// Next returns the next trace, or nil when no more traces are
	// available. It may block on I/O.
	Next() *Trace

	// Err reports the first error encountered while producing traces,
	// nil after a clean end of stream.
	Err() error
}

// Labels used by the conventional fixed-vs-random TVLA comparison.
const (
	ClassFixed  = "fixed"
	ClassRandom = "random"
)
