// Package moments maintains numerically stable running statistics
// (count, mean, centered sums up to fourth order) per sample index and
// per trace class. Accumulators summarize a batch of traces without
// retaining the raw data and can be merged pairwise, which is what
// allows chunked, parallel, and resumable processing of arbitrarily
// large trace sets.
package moments

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// MinOrder is the lowest supported moment order (plain mean/variance).
	MinOrder = 2
	// MaxOrder is the highest supported moment order.
	MaxOrder = 4
)

var (
	// ErrEmptyBatch is returned when a batch holds no traces. Callers
	// must not persist an accumulator for an empty chunk.
	ErrEmptyBatch = errors.New("moments: empty batch")
	// ErrInconsistentLength is returned when traces within a batch do
	// not all share the same sample length.
	ErrInconsistentLength = errors.New("moments: inconsistent trace length")
	// ErrClassMismatch is returned when merging accumulators that carry
	// different class labels. This is a caller bug, not a data error.
	ErrClassMismatch = errors.New("moments: class mismatch")
	// ErrSampleIndexMismatch is returned when merging accumulators whose
	// sample-index layouts (length or moment order) differ.
	ErrSampleIndexMismatch = errors.New("moments: sample index mismatch")
	// ErrBadOrder is returned for a moment order outside [MinOrder, MaxOrder].
	ErrBadOrder = errors.New("moments: moment order must be 2, 3 or 4")
)

// IndexStats holds the sufficient statistics for a single sample index:
// observation count, running mean, and running centered sums of powers
// 2..4. Sums above the accumulator's configured order stay zero.
type IndexStats struct {
	N    uint64
	Mean float64
	M2   float64
	M3   float64
	M4   float64
}

// ClassAccumulator is an array of independent per-index statistics for
// one trace class. It never references the traces it has consumed.
type ClassAccumulator struct {
	Class string
	Order int
	Stats []IndexStats
}

// New returns a zero-count accumulator for the given class, sample
// length and moment order.
func New(class string, length, order int) (*ClassAccumulator, error) {
	if order < MinOrder || order > MaxOrder {
		return nil, errors.Wrapf(ErrBadOrder, "got %d", order)
	}
	if length <= 0 {
		return nil, errors.Errorf("moments: sample length must be positive, got %d", length)
	}
	return &ClassAccumulator{
		Class: class,
		Order: order,
		Stats: make([]IndexStats, length),
	}, nil
}

// Len returns the sample length L.
func (a *ClassAccumulator) Len() int { return len(a.Stats) }

// Count returns the observation count, which is identical across all
// sample indices of one accumulator.
func (a *ClassAccumulator) Count() uint64 {
	if len(a.Stats) == 0 {
		return 0
	}
	return a.Stats[0].N
}

// Push folds a single trace into the accumulator using the Welford
// one-pass update generalized to higher centered sums. The update is
// applied to every sample index independently.
func (a *ClassAccumulator) Push(samples []float64) error {
	if len(samples) != len(a.Stats) {
		return errors.Wrapf(ErrInconsistentLength, "expected %d samples, got %d", len(a.Stats), len(samples))
	}
	for i, x := range samples {
		push(&a.Stats[i], x, a.Order)
	}
	return nil
}

// push performs the single-observation update on one index. See Pébay,
// "Formulas for Robust, One-Pass Parallel Computation of Covariances
// and Arbitrary-Order Statistical Moments".
func push(s *IndexStats, x float64, order int) {
	n0 := float64(s.N)
	s.N++
	n := float64(s.N)

	delta := x - s.Mean
	deltaN := delta / n
	term1 := delta * deltaN * n0

	if order >= 4 {
		deltaN2 := deltaN * deltaN
		s.M4 += term1*deltaN2*(n*n-3*n+3) + 6*deltaN2*s.M2 - 4*deltaN*s.M3
	}
	if order >= 3 {
		s.M3 += term1*deltaN*(n-2) - 3*deltaN*s.M2
	}
	s.M2 += term1
	s.Mean += deltaN
}

// Accumulate computes the sufficient statistics for one class-pure
// batch of traces. It is a pure function of the batch: identical input
// in identical order produces bit-identical output. No partial result
// is returned on error.
func Accumulate(class string, order int, batch [][]float64) (*ClassAccumulator, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	length := len(batch[0])
	for i, tr := range batch {
		if len(tr) != length {
			return nil, errors.Wrapf(ErrInconsistentLength, "trace %d has %d samples, expected %d", i, len(tr), length)
		}
	}
	acc, err := New(class, length, order)
	if err != nil {
		return nil, err
	}
	for _, tr := range batch {
		if err := acc.Push(tr); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// Variance returns the unbiased sample variance at index i. The second
// return is false when fewer than two observations have been seen.
func (a *ClassAccumulator) Variance(i int) (float64, bool) {
	s := &a.Stats[i]
	if s.N < 2 {
		return 0, false
	}
	return s.M2 / float64(s.N-1), true
}

// CentralMoment returns the k-th central moment estimate M_k/n at
// index i, false when the moment is not tracked or n is zero.
func (a *ClassAccumulator) CentralMoment(i, k int) (float64, bool) {
	s := &a.Stats[i]
	if s.N == 0 || k > a.Order {
		return 0, false
	}
	switch k {
	case 2:
		return s.M2 / float64(s.N), true
	case 3:
		return s.M3 / float64(s.N), true
	case 4:
		return s.M4 / float64(s.N), true
	}
	return 0, false
}

// StandardizedMoment returns the k-th standardized moment at index i
// (central moment divided by sigma^k), false when undefined.
func (a *ClassAccumulator) StandardizedMoment(i, k int) (float64, bool) {
	cm, ok := a.CentralMoment(i, k)
	if !ok {
		return 0, false
	}
	cm2, ok := a.CentralMoment(i, 2)
	if !ok || cm2 <= 0 {
		return 0, false
	}
	sigma := cm2
	switch k {
	case 3:
		sigma *= math.Sqrt(cm2)
	case 4:
		sigma *= cm2
	}
	return cm / sigma, true
}
