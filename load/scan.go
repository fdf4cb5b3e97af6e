package load

import (
	"github.com/scasim/tvla/pkg/traces"
)

// scan reads traces from the source until it is exhausted or the item
// limit is reached, groups them into class-pure batches of chunkSize
// traces, and sends full batches to the workers. The tail batch of
// each class is flushed at the end even when smaller than chunkSize.
//
// The scanner holds no locks while blocked on the source, so a slow
// adapter never stalls workers that already have batches in flight.
func scan(src traces.Source, ch chan<- *TraceBatch, chunkSize uint, limit uint64) uint64 {
	if chunkSize == 0 {
		panic("chunk size can't be 0")
	}

	factory := batchFactory{}
	filling := map[string]*TraceBatch{}
	offsets := map[string]uint64{}

	var itemsRead uint64
	for {
		if limit > 0 && itemsRead >= limit {
			break
		}
		item := src.Next()
		if item == nil {
			// Nothing to scan any more - input is empty, done, or failed
			break
		}
		itemsRead++

		b, ok := filling[item.Class]
		if !ok {
			b = factory.New(item.Class, offsets[item.Class])
			filling[item.Class] = b
		}
		b.Append(item)
		offsets[item.Class]++

		if b.Len() >= chunkSize {
			ch <- b
			delete(filling, item.Class)
		}
	}

	// Flush the per-class tails - they may be smaller than chunkSize.
	for class, b := range filling {
		if b.Len() > 0 {
			ch <- b
		}
		delete(filling, class)
	}
	return itemsRead
}
