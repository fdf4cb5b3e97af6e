package moments

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestNewValidatesOrder(t *testing.T) {
	cases := []struct {
		desc    string
		order   int
		wantErr bool
	}{
		{desc: "order 2", order: 2},
		{desc: "order 3", order: 3},
		{desc: "order 4", order: 4},
		{desc: "order 1 rejected", order: 1, wantErr: true},
		{desc: "order 5 rejected", order: 5, wantErr: true},
	}
	for _, c := range cases {
		_, err := New("fixed", 8, c.order)
		if gotErr := err != nil; gotErr != c.wantErr {
			t.Errorf("%s: unexpected error state: got %v", c.desc, err)
		}
		if c.wantErr && !errors.Is(errors.Cause(err), ErrBadOrder) {
			t.Errorf("%s: want ErrBadOrder, got %v", c.desc, err)
		}
	}
}

func TestAccumulateEmptyBatch(t *testing.T) {
	_, err := Accumulate("fixed", 2, nil)
	if !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("want ErrEmptyBatch, got %v", err)
	}
}

func TestAccumulateInconsistentLength(t *testing.T) {
	batch := [][]float64{
		{1, 2, 3},
		{4, 5, 6, 7},
	}
	_, err := Accumulate("fixed", 2, batch)
	if !errors.Is(errors.Cause(err), ErrInconsistentLength) {
		t.Errorf("want ErrInconsistentLength, got %v", err)
	}
}

func TestPushLengthMismatch(t *testing.T) {
	acc, err := New("fixed", 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Push([]float64{1, 2, 3}); !errors.Is(errors.Cause(err), ErrInconsistentLength) {
		t.Errorf("want ErrInconsistentLength, got %v", err)
	}
}

func TestAccumulateKnownValues(t *testing.T) {
	// One index, values 2,4,4,4,5,5,7,9: mean 5, population variance 4,
	// sum of squared deviations 32.
	batch := [][]float64{{2}, {4}, {4}, {4}, {5}, {5}, {7}, {9}}
	acc, err := Accumulate("fixed", 4, batch)
	if err != nil {
		t.Fatal(err)
	}
	s := acc.Stats[0]
	if s.N != 8 {
		t.Errorf("count: got %d want 8", s.N)
	}
	if got := s.Mean; got != 5.0 {
		t.Errorf("mean: got %v want 5", got)
	}
	if got := s.M2; math.Abs(got-32.0) > 1e-12 {
		t.Errorf("M2: got %v want 32", got)
	}
	v, ok := acc.Variance(0)
	if !ok {
		t.Fatal("variance reported undefined")
	}
	if want := 32.0 / 7.0; math.Abs(v-want) > 1e-12 {
		t.Errorf("variance: got %v want %v", v, want)
	}
}

func TestAccumulateMatchesNaiveMoments(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n, l = 500, 3
	batch := make([][]float64, n)
	for i := range batch {
		batch[i] = make([]float64, l)
		for j := range batch[i] {
			batch[i][j] = rng.NormFloat64()*2.5 + 1.0
		}
	}

	acc, err := Accumulate("random", 4, batch)
	if err != nil {
		t.Fatal(err)
	}

	for j := 0; j < l; j++ {
		mean := 0.0
		for i := range batch {
			mean += batch[i][j]
		}
		mean /= n
		var m2, m3, m4 float64
		for i := range batch {
			d := batch[i][j] - mean
			m2 += d * d
			m3 += d * d * d
			m4 += d * d * d * d
		}

		s := acc.Stats[j]
		if relDiff(s.Mean, mean) > 1e-12 {
			t.Errorf("index %d mean: got %v want %v", j, s.Mean, mean)
		}
		if relDiff(s.M2, m2) > 1e-9 {
			t.Errorf("index %d M2: got %v want %v", j, s.M2, m2)
		}
		if relDiff(s.M3, m3) > 1e-8 {
			t.Errorf("index %d M3: got %v want %v", j, s.M3, m3)
		}
		if relDiff(s.M4, m4) > 1e-9 {
			t.Errorf("index %d M4: got %v want %v", j, s.M4, m4)
		}
	}
}

func TestAccumulateDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	batch := make([][]float64, 64)
	for i := range batch {
		batch[i] = []float64{rng.Float64(), rng.Float64()}
	}
	a, err := Accumulate("fixed", 4, batch)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Accumulate("fixed", 4, batch)
	if err != nil {
		t.Fatal(err)
	}
	// Same input in the same order must be bit-identical.
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("accumulators differ (-first +second):\n%s", diff)
	}
}

func TestOrderLimitsTrackedMoments(t *testing.T) {
	batch := [][]float64{{1}, {2}, {7}, {4}}
	acc, err := Accumulate("fixed", 2, batch)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Stats[0].M3 != 0 || acc.Stats[0].M4 != 0 {
		t.Errorf("order-2 accumulator tracked higher moments: M3=%v M4=%v", acc.Stats[0].M3, acc.Stats[0].M4)
	}
	if _, ok := acc.CentralMoment(0, 3); ok {
		t.Error("CentralMoment(3) defined on an order-2 accumulator")
	}
}

func relDiff(got, want float64) float64 {
	if want == 0 {
		return math.Abs(got)
	}
	return math.Abs(got-want) / math.Abs(want)
}
