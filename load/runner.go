// Package load drives ingestion: it scans a trace source into
// class-pure chunks, fans the chunks out to parallel workers that
// compute each chunk's accumulator, and appends the results to the
// chunked state store. Chunk order between workers does not matter;
// the merge algebra makes the final state independent of it.
package load

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/atomic"

	"github.com/scasim/tvla/pkg/moments"
	"github.com/scasim/tvla/pkg/store"
	"github.com/scasim/tvla/pkg/traces"
)

const (
	defaultChunkSize       = 256
	defaultChannelCapacity = 4
)

// change for more useful testing
var (
	printFn = fmt.Printf
	fatal   = log.Fatalf
)

// RunnerConfig is the configuration of the ingestion runner.
type RunnerConfig struct {
	DBPath           string        `mapstructure:"db-path" yaml:"db-path"`
	ChunkSize        uint          `mapstructure:"chunk-size" yaml:"chunk-size"`
	Workers          uint          `mapstructure:"workers" yaml:"workers"`
	Limit            uint64        `mapstructure:"limit" yaml:"limit"`
	MomentOrder      int           `mapstructure:"moment-order" yaml:"moment-order"`
	RunTag           string        `mapstructure:"run-tag" yaml:"run-tag"`
	ReportingPeriod  time.Duration `mapstructure:"reporting-period" yaml:"reporting-period"`
	ChannelCapacity  uint          `mapstructure:"channel-capacity" yaml:"channel-capacity"`
	HdrLatenciesFile string        `mapstructure:"hdr-latencies" yaml:"hdr-latencies"`
}

// AddToFlagSet adds command line flags needed by the RunnerConfig to
// the flag set.
func (c RunnerConfig) AddToFlagSet(fs *pflag.FlagSet) {
	fs.String("db-path", "tvla.db", "Path of the sqlite state store")
	fs.Uint("chunk-size", defaultChunkSize, "Number of traces to accumulate into a single chunk")
	fs.Uint("workers", 1, "Number of parallel workers computing chunk accumulators")
	fs.Uint64("limit", 0, "Number of traces to ingest (0 = all of them)")
	fs.Int("moment-order", moments.MinOrder, "Highest centered moment to track (2, 3 or 4)")
	fs.String("run-tag", "run", "Tag prefixed to chunk ids; reuse the tag to make a rerun idempotent")
	fs.Duration("reporting-period", 10*time.Second, "Period to report ingest stats (0 to disable)")
	fs.Uint("channel-capacity", defaultChannelCapacity, "Capacity of the scanner-to-worker queue")
	fs.String("hdr-latencies", "", "Write the High Dynamic Range (HDR) Histogram of chunk processing latencies to this file")
}

// ClassCount is one class's ingest accounting.
type ClassCount struct {
	Class  string
	Chunks uint64
	Traces uint64
}

// Summary is the final accounting of an ingest run.
type Summary struct {
	TracesRead    uint64
	ChunksWritten uint64
	ChunksSkipped uint64
	PerClass      []ClassCount
	Took          time.Duration
	Latencies     *hdrhistogram.Histogram
}

// Runner ingests a trace source into a state store.
type Runner struct {
	RunnerConfig

	traceCnt   atomic.Uint64
	chunkCnt   atomic.Uint64
	skippedCnt atomic.Uint64
	runErr     atomic.Error

	mu       sync.Mutex
	perClass map[string]*ClassCount
	hist     *hdrhistogram.Histogram
}

// GetRunner returns a Runner for the given configuration, filling in
// defaults for zero values.
func GetRunner(config RunnerConfig) *Runner {
	if config.ChunkSize == 0 {
		config.ChunkSize = defaultChunkSize
	}
	if config.Workers == 0 {
		config.Workers = 1
	}
	if config.ChannelCapacity == 0 {
		config.ChannelCapacity = defaultChannelCapacity
	}
	if config.MomentOrder == 0 {
		config.MomentOrder = moments.MinOrder
	}
	if config.RunTag == "" {
		config.RunTag = "run"
	}
	return &Runner{
		RunnerConfig: config,
		perClass:     map[string]*ClassCount{},
		// One-microsecond resolution up to an hour per chunk.
		hist: hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3),
	}
}

// Run scans the source and appends chunk accumulators to the store
// until the source is exhausted. Batch-level failures (length
// mismatches, duplicate chunk ids) are logged, counted and skipped;
// store-level failures end the run and are returned.
func (r *Runner) Run(ctx context.Context, src traces.Source, st *store.Store) (*Summary, error) {
	if r.MomentOrder < moments.MinOrder || r.MomentOrder > moments.MaxOrder {
		return nil, errors.Wrapf(moments.ErrBadOrder, "got %d", r.MomentOrder)
	}

	ch := make(chan *TraceBatch, r.ChannelCapacity)

	var wg sync.WaitGroup
	for i := uint(0); i < r.Workers; i++ {
		wg.Add(1)
		go r.work(ctx, &wg, ch, st, i)
	}

	if r.ReportingPeriod.Nanoseconds() > 0 {
		go r.report(r.ReportingPeriod)
	}

	start := time.Now()
	itemsRead := scan(src, ch, r.ChunkSize, r.Limit)
	close(ch)
	wg.Wait()
	took := time.Since(start)

	if err := src.Err(); err != nil {
		// The traces read before the failure are already durable;
		// surface the error so the caller can resume from the source's
		// last offset.
		return r.summarize(itemsRead, took), errors.Wrap(err, "trace source failed")
	}
	return r.summarize(itemsRead, took), r.runErr.Load()
}

// work is the processing function for each worker in the runner.
func (r *Runner) work(ctx context.Context, wg *sync.WaitGroup, ch <-chan *TraceBatch, st *store.Store, workerNum uint) {
	defer wg.Done()

	// Per-worker histogram, merged into the shared one at the end, so
	// the hot path never takes the runner lock.
	hist := hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3)

	for b := range ch {
		if r.runErr.Load() != nil {
			// A terminal store failure was already recorded; drain the
			// queue so the scanner can finish.
			continue
		}
		startedWorkAt := time.Now()
		if r.processBatch(ctx, st, b) {
			_ = hist.RecordValue(time.Since(startedWorkAt).Microseconds())
		}
	}

	r.mu.Lock()
	r.hist.Merge(hist)
	r.mu.Unlock()
}

// processBatch accumulates one chunk and appends it to the store,
// reporting whether the chunk was ingested.
func (r *Runner) processBatch(ctx context.Context, st *store.Store, b *TraceBatch) bool {
	acc, err := moments.Accumulate(b.Class, r.MomentOrder, b.Traces)
	if err != nil {
		// A malformed batch discards the batch, not the run.
		printFn("skipping chunk %s: %v\n", r.chunkID(b), err)
		r.skippedCnt.Inc()
		return false
	}

	if err := st.Append(ctx, r.chunkID(b), acc); err != nil {
		if errors.Is(errors.Cause(err), store.ErrDuplicateChunk) {
			// Retried chunk from a resumed run; already durable.
			r.skippedCnt.Inc()
			return false
		}
		r.runErr.Store(err)
		return false
	}

	r.traceCnt.Add(uint64(b.Len()))
	r.chunkCnt.Inc()
	r.mu.Lock()
	cc, ok := r.perClass[b.Class]
	if !ok {
		cc = &ClassCount{Class: b.Class}
		r.perClass[b.Class] = cc
	}
	cc.Chunks++
	cc.Traces += uint64(b.Len())
	r.mu.Unlock()
	return true
}

// chunkID derives the stable chunk identity from the batch's class
// stream position: <run-tag>:<class>:<first-offset>-<count>.
func (r *Runner) chunkID(b *TraceBatch) string {
	return fmt.Sprintf("%s:%s:%d-%d", r.RunTag, b.Class, b.FirstOffset, b.Len())
}

func (r *Runner) summarize(itemsRead uint64, took time.Duration) *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Summary{
		TracesRead:    itemsRead,
		ChunksWritten: r.chunkCnt.Load(),
		ChunksSkipped: r.skippedCnt.Load(),
		Took:          took,
		Latencies:     r.hist,
	}
	for _, cc := range r.perClass {
		s.PerClass = append(s.PerClass, *cc)
	}
	sort.Slice(s.PerClass, func(i, j int) bool { return s.PerClass[i].Class < s.PerClass[j].Class })
	return s
}

// PrintSummary prints the run accounting the way an operator wants to
// read it, and optionally writes the chunk latency histogram file.
func (r *Runner) PrintSummary(s *Summary) {
	traceRate := float64(r.traceCnt.Load()) / s.Took.Seconds()
	printFn("\nSummary:\n")
	printFn("ingested %d chunks (%d traces) in %0.3fsec with %d workers (mean rate %0.2f traces/sec)\n",
		s.ChunksWritten, r.traceCnt.Load(), s.Took.Seconds(), r.Workers, traceRate)
	for _, cc := range s.PerClass {
		printFn("class %s: %d chunks, %d traces\n", cc.Class, cc.Chunks, cc.Traces)
	}
	if s.ChunksSkipped > 0 {
		printFn("skipped %d chunks (malformed or already ingested)\n", s.ChunksSkipped)
	}
	if s.Latencies.TotalCount() > 0 {
		printFn("chunk latency (usec): p50 %d, p95 %d, p99 %d, max %d\n",
			s.Latencies.ValueAtQuantile(50), s.Latencies.ValueAtQuantile(95),
			s.Latencies.ValueAtQuantile(99), s.Latencies.Max())
	}
	if len(r.HdrLatenciesFile) > 0 {
		printFn("Saving High Dynamic Range (HDR) Histogram of chunk latencies to %s\n", r.HdrLatenciesFile)
		f, err := os.Create(r.HdrLatenciesFile)
		if err != nil {
			fatal("cannot create HDR latencies file: %v", err)
			return
		}
		defer f.Close()
		if _, err := s.Latencies.PercentilesPrint(f, 10, 1.0); err != nil {
			fatal("cannot write HDR latencies file: %v", err)
		}
	}
}

// report handles periodic reporting of ingest stats.
func (r *Runner) report(period time.Duration) {
	start := time.Now()
	prevTime := start
	prevTraceCount := uint64(0)

	printFn("time,per. traces/s,trace total,overall traces/s,chunk total,skipped\n")
	for now := range time.NewTicker(period).C {
		tCount := r.traceCnt.Load()

		sinceStart := now.Sub(start)
		took := now.Sub(prevTime)
		traceRate := float64(tCount-prevTraceCount) / took.Seconds()
		overallTraceRate := float64(tCount) / sinceStart.Seconds()
		printFn("%d,%0.2f,%E,%0.2f,%d,%d\n",
			now.Unix(), traceRate, float64(tCount), overallTraceRate,
			r.chunkCnt.Load(), r.skippedCnt.Load())

		prevTraceCount = tCount
		prevTime = now
	}
}
