package load

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/scasim/tvla/pkg/store"
	"github.com/scasim/tvla/pkg/traces"
)

var errMock = errors.New("mock source failure")

func init() {
	// keep test output clean
	printFn = func(format string, args ...interface{}) (int, error) { return 0, nil }
}

func newRunnerStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.Open(filepath.Join(t.TempDir(), "tvla.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func simulatedSource(t *testing.T, perClass int) traces.Source {
	t.Helper()
	src, err := traces.NewSimulatorSource(traces.SimulatorConfig{
		Length: 4,
		Seed:   77,
		Classes: []traces.ClassSpec{
			{Label: traces.ClassFixed, Mean: 0, StdDev: 1, Count: perClass},
			{Label: traces.ClassRandom, Mean: 1, StdDev: 1, Count: perClass},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func TestRunnerIngestsAllChunks(t *testing.T) {
	ctx := context.Background()
	st := newRunnerStore(t)
	r := GetRunner(RunnerConfig{ChunkSize: 32, Workers: 4, MomentOrder: 4, RunTag: "t1"})

	summary, err := r.Run(ctx, simulatedSource(t, 100), st)
	if err != nil {
		t.Fatal(err)
	}

	if summary.TracesRead != 200 {
		t.Errorf("traces read: got %d want 200", summary.TracesRead)
	}
	// 100 traces per class at chunk size 32: three full chunks plus a tail.
	if summary.ChunksWritten != 8 {
		t.Errorf("chunks written: got %d want 8", summary.ChunksWritten)
	}
	if summary.ChunksSkipped != 0 {
		t.Errorf("chunks skipped: got %d want 0", summary.ChunksSkipped)
	}
	wantPerClass := []ClassCount{
		{Class: traces.ClassFixed, Chunks: 4, Traces: 100},
		{Class: traces.ClassRandom, Chunks: 4, Traces: 100},
	}
	if diff := cmp.Diff(wantPerClass, summary.PerClass); diff != "" {
		t.Errorf("per-class accounting differs:\n%s", diff)
	}

	for _, class := range []string{traces.ClassFixed, traces.ClassRandom} {
		merged, err := st.LoadMerged(ctx, class)
		if err != nil {
			t.Fatal(err)
		}
		if merged.Count() != 100 {
			t.Errorf("%s merged count: got %d want 100", class, merged.Count())
		}
		if merged.Order != 4 {
			t.Errorf("%s moment order: got %d want 4", class, merged.Order)
		}
	}
	if summary.Latencies.TotalCount() != 8 {
		t.Errorf("latency samples: got %d want 8", summary.Latencies.TotalCount())
	}
}

func TestRunnerRerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newRunnerStore(t)

	first := GetRunner(RunnerConfig{ChunkSize: 25, Workers: 2, RunTag: "same"})
	if _, err := first.Run(ctx, simulatedSource(t, 50), st); err != nil {
		t.Fatal(err)
	}
	before, err := st.LoadMerged(ctx, traces.ClassFixed)
	if err != nil {
		t.Fatal(err)
	}

	// Same source, same tag: every chunk id collides and is skipped.
	second := GetRunner(RunnerConfig{ChunkSize: 25, Workers: 2, RunTag: "same"})
	summary, err := second.Run(ctx, simulatedSource(t, 50), st)
	if err != nil {
		t.Fatal(err)
	}
	if summary.ChunksWritten != 0 {
		t.Errorf("rerun wrote %d chunks, want 0", summary.ChunksWritten)
	}
	if summary.ChunksSkipped != 4 {
		t.Errorf("rerun skipped %d chunks, want 4", summary.ChunksSkipped)
	}

	after, err := st.LoadMerged(ctx, traces.ClassFixed)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("rerun changed merged state:\n%s", diff)
	}
}

func TestRunnerSkipsMalformedBatch(t *testing.T) {
	ctx := context.Background()
	st := newRunnerStore(t)

	// Second chunk of the class contains a short trace; that chunk is
	// discarded, the rest of the run proceeds.
	items := []*traces.Trace{
		{Class: "fixed", Samples: []float64{1, 2}},
		{Class: "fixed", Samples: []float64{3, 4}},
		{Class: "fixed", Samples: []float64{5, 6, 7}},
		{Class: "fixed", Samples: []float64{8, 9}},
		{Class: "fixed", Samples: []float64{10, 11}},
		{Class: "fixed", Samples: []float64{12, 13}},
	}
	r := GetRunner(RunnerConfig{ChunkSize: 2, Workers: 1, RunTag: "bad"})
	summary, err := r.Run(ctx, &sliceSource{items: items}, st)
	if err != nil {
		t.Fatal(err)
	}

	if summary.ChunksWritten != 2 {
		t.Errorf("chunks written: got %d want 2", summary.ChunksWritten)
	}
	if summary.ChunksSkipped != 1 {
		t.Errorf("chunks skipped: got %d want 1", summary.ChunksSkipped)
	}

	merged, err := st.LoadMerged(ctx, "fixed")
	if err != nil {
		t.Fatal(err)
	}
	// Only the four traces from the two healthy chunks are persisted.
	if merged.Count() != 4 {
		t.Errorf("merged count: got %d want 4", merged.Count())
	}
}

func TestRunnerSurfacesSourceError(t *testing.T) {
	ctx := context.Background()
	st := newRunnerStore(t)

	src := &sliceSource{
		items: []*traces.Trace{trace("fixed", 0), trace("fixed", 1)},
		err:   errMock,
	}
	r := GetRunner(RunnerConfig{ChunkSize: 2, Workers: 1, RunTag: "err"})
	summary, err := r.Run(ctx, src, st)
	if err == nil {
		t.Fatal("source failure not surfaced")
	}
	// Chunks completed before the failure stay durable.
	if summary.ChunksWritten != 1 {
		t.Errorf("chunks written before failure: got %d want 1", summary.ChunksWritten)
	}
}

func TestRunnerRejectsBadOrder(t *testing.T) {
	st := newRunnerStore(t)
	r := GetRunner(RunnerConfig{MomentOrder: 7})
	if _, err := r.Run(context.Background(), &sliceSource{}, st); err == nil {
		t.Error("moment order 7 accepted")
	}
}
