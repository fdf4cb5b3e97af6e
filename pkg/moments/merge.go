package moments

import "github.com/pkg/errors"

// MergeIndex combines the statistics of two disjoint partitions of
// observations at the same sample index. The result is identical, up
// to floating-point rounding, to having accumulated both partitions in
// a single pass, and the operation is associative and commutative to
// the same tolerance. Either side with a zero count acts as identity.
func MergeIndex(a, b IndexStats, order int) IndexStats {
	if a.N == 0 {
		return b
	}
	if b.N == 0 {
		return a
	}

	na := float64(a.N)
	nb := float64(b.N)
	n := na + nb
	delta := b.Mean - a.Mean

	var c IndexStats
	c.N = a.N + b.N
	c.Mean = a.Mean + delta*nb/n
	c.M2 = a.M2 + b.M2 + delta*delta*na*nb/n

	if order >= 3 {
		c.M3 = a.M3 + b.M3 +
			delta*delta*delta*na*nb*(na-nb)/(n*n) +
			3*delta*(na*b.M2-nb*a.M2)/n
	}
	if order >= 4 {
		d2 := delta * delta
		c.M4 = a.M4 + b.M4 +
			d2*d2*na*nb*(na*na-na*nb+nb*nb)/(n*n*n) +
			6*d2*(na*na*b.M2+nb*nb*a.M2)/(n*n) +
			4*delta*(na*b.M3-nb*a.M3)/n
	}
	return c
}

// Merge combines two class accumulators index by index, producing a
// new accumulator and leaving both inputs untouched. Both sides must
// carry the same class label, sample length and moment order; merges
// never cross sample indices.
func Merge(a, b *ClassAccumulator) (*ClassAccumulator, error) {
	if a.Class != b.Class {
		return nil, errors.Wrapf(ErrClassMismatch, "%q vs %q", a.Class, b.Class)
	}
	if len(a.Stats) != len(b.Stats) {
		return nil, errors.Wrapf(ErrSampleIndexMismatch, "length %d vs %d", len(a.Stats), len(b.Stats))
	}
	if a.Order != b.Order {
		return nil, errors.Wrapf(ErrSampleIndexMismatch, "moment order %d vs %d", a.Order, b.Order)
	}

	c := &ClassAccumulator{
		Class: a.Class,
		Order: a.Order,
		Stats: make([]IndexStats, len(a.Stats)),
	}
	for i := range a.Stats {
		c.Stats[i] = MergeIndex(a.Stats[i], b.Stats[i], a.Order)
	}
	return c, nil
}
