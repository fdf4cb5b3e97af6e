// Package scoring turns merged class accumulators into per-sample-index
// leakage statistics: Welch's t on means and moment-based variants for
// higher orders. Indices without enough observations score NaN, which
// keeps "could not evaluate" distinct from "no leakage".
package scoring

import (
	"math"

	"github.com/pkg/errors"

	"github.com/scasim/tvla/pkg/moments"
)

// DefaultThreshold is the conventional TVLA pass/fail boundary on |t|.
const DefaultThreshold = 4.5

var (
	// ErrLengthMismatch is returned when the two classes disagree on
	// sample length.
	ErrLengthMismatch = errors.New("scoring: sample length mismatch between classes")
	// ErrInsufficientSamples is returned when a class has no index
	// with at least two observations, so nothing can be scored.
	ErrInsufficientSamples = errors.New("scoring: insufficient samples")
)

// Row is one line of the score matrix: the per-index statistic values
// comparing two classes at one statistic order. Undefined indices hold
// NaN.
type Row struct {
	ClassA string
	ClassB string
	Order  int
	T      []float64
}

// IsUndefined reports whether a statistic value is the undefined
// sentinel.
func IsUndefined(v float64) bool { return math.IsNaN(v) }

// Welch computes the per-index Welch's t-statistic between two class
// accumulators: t = (mu_a - mu_b) / sqrt(var_a/n_a + var_b/n_b).
func Welch(a, b *moments.ClassAccumulator) (Row, error) {
	if err := checkPair(a, b); err != nil {
		return Row{}, err
	}
	row := Row{ClassA: a.Class, ClassB: b.Class, Order: 1, T: make([]float64, a.Len())}
	for i := range row.T {
		row.T[i] = welchIndex(a, b, i)
	}
	return row, nil
}

func welchIndex(a, b *moments.ClassAccumulator, i int) float64 {
	va, okA := a.Variance(i)
	vb, okB := b.Variance(i)
	if !okA || !okB {
		return math.NaN()
	}
	den := va/float64(a.Stats[i].N) + vb/float64(b.Stats[i].N)
	if den <= 0 {
		return math.NaN()
	}
	return (a.Stats[i].Mean - b.Stats[i].Mean) / math.Sqrt(den)
}

// Score computes every statistic order the accumulators' tracked
// moments support: order 1 (Welch on means) always; order 2
// (difference of second central moments) and order 4 (kurtosis
// difference) when fourth moments are tracked; order 3 (skewness
// difference) when third moments are tracked. One Row per order.
func Score(a, b *moments.ClassAccumulator) ([]Row, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}

	rows := []Row{}
	first, err := Welch(a, b)
	if err != nil {
		return nil, err
	}
	rows = append(rows, first)

	order := a.Order
	if order >= 4 {
		rows = append(rows, momentRow(a, b, 2))
	}
	if order >= 3 {
		rows = append(rows, momentRow(a, b, 3))
	}
	if order >= 4 {
		rows = append(rows, momentRow(a, b, 4))
	}
	return rows, nil
}

// momentRow compares a higher-order moment between the classes.
//
// Order 2 compares the second central moments directly; the variance
// of that estimator is derived exactly from the tracked fourth
// moments: Var(CM2) = (CM4 - CM2^2) / n.
//
// Orders 3 and 4 compare standardized skewness and kurtosis; their
// estimator variances use the normal-theory asymptotics 6/n and 24/n,
// since exact expressions would need moments beyond fourth order.
func momentRow(a, b *moments.ClassAccumulator, order int) Row {
	row := Row{ClassA: a.Class, ClassB: b.Class, Order: order, T: make([]float64, a.Len())}
	for i := range row.T {
		row.T[i] = momentIndex(a, b, i, order)
	}
	return row
}

func momentIndex(a, b *moments.ClassAccumulator, i, order int) float64 {
	na := float64(a.Stats[i].N)
	nb := float64(b.Stats[i].N)
	if na < 2 || nb < 2 {
		return math.NaN()
	}

	if order == 2 {
		cm2a, okA := a.CentralMoment(i, 2)
		cm2b, okB := b.CentralMoment(i, 2)
		cm4a, okA4 := a.CentralMoment(i, 4)
		cm4b, okB4 := b.CentralMoment(i, 4)
		if !okA || !okB || !okA4 || !okB4 {
			return math.NaN()
		}
		den := (cm4a-cm2a*cm2a)/na + (cm4b-cm2b*cm2b)/nb
		if den <= 0 {
			return math.NaN()
		}
		return (cm2a - cm2b) / math.Sqrt(den)
	}

	sa, okA := a.StandardizedMoment(i, order)
	sb, okB := b.StandardizedMoment(i, order)
	if !okA || !okB {
		return math.NaN()
	}
	asym := 6.0
	if order == 4 {
		asym = 24.0
	}
	den := asym/na + asym/nb
	return (sa - sb) / math.Sqrt(den)
}

// MaxAbs returns the largest finite |t| in a row and its index. When
// every index is undefined it returns NaN and -1.
func MaxAbs(row Row) (float64, int) {
	max := math.NaN()
	at := -1
	for i, v := range row.T {
		if !isFinite(v) {
			continue
		}
		if at == -1 || math.Abs(v) > max {
			max = math.Abs(v)
			at = i
		}
	}
	return max, at
}

// Exceeds returns the indices whose |t| exceeds the threshold.
// Undefined indices never count as leaking.
func Exceeds(row Row, threshold float64) []int {
	var leaking []int
	for i, v := range row.T {
		if isFinite(v) && math.Abs(v) > threshold {
			leaking = append(leaking, i)
		}
	}
	return leaking
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkPair(a, b *moments.ClassAccumulator) error {
	if a.Len() != b.Len() {
		return errors.Wrapf(ErrLengthMismatch, "%s has %d samples, %s has %d", a.Class, a.Len(), b.Class, b.Len())
	}
	if !hasScorableIndex(a) {
		return errors.Wrapf(ErrInsufficientSamples, "class %s", a.Class)
	}
	if !hasScorableIndex(b) {
		return errors.Wrapf(ErrInsufficientSamples, "class %s", b.Class)
	}
	return nil
}

func hasScorableIndex(a *moments.ClassAccumulator) bool {
	for i := range a.Stats {
		if a.Stats[i].N >= 2 {
			return true
		}
	}
	return false
}
