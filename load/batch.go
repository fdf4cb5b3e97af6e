package load

import "github.com/scasim/tvla/pkg/traces"

// TraceBatch is a class-pure batch of sample vectors, the unit of work
// handed to a worker. FirstOffset is the position of the batch's first
// trace within its class's stream, which together with the trace count
// gives the chunk a stable identity across reruns of the same source.
type TraceBatch struct {
	Class       string
	FirstOffset uint64
	Traces      [][]float64
}

// Append adds one trace to the batch. The caller guarantees the trace
// belongs to the batch's class.
func (b *TraceBatch) Append(t *traces.Trace) {
	b.Traces = append(b.Traces, t.Samples)
}

// Len returns the number of traces in the batch.
func (b *TraceBatch) Len() uint {
	return uint(len(b.Traces))
}

// batchFactory creates empty batches for a class at a given stream
// offset.
type batchFactory struct{}

func (batchFactory) New(class string, firstOffset uint64) *TraceBatch {
	return &TraceBatch{Class: class, FirstOffset: firstOffset}
}
