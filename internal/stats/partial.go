package stats

import "math"

// Partial holds the running moments of one column over a set of rows.
// A zero Count marks the identity record: merging it is a no-op.
type Partial struct {
	Count    int64
	Sum      float64
	Sum2     float64
	Sum2Cent float64
	Mean     float64
	Min      float64
	Max      float64
}

// Identity returns the record of an empty row set.
func Identity() Partial {
	return Partial{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Merge combines two records with Chan's pairwise formula:
//
//	delta    = mean_b - mean_a
//	mean     = (mean_a*n_a + mean_b*n_b) / n
//	sum2cent = sum2cent_a + sum2cent_b + delta^2 * n_a*n_b/n
//
// where mean_i = sum_i/n_i. The formula is symmetric and, up to rounding,
// associative.
func (a Partial) Merge(b Partial) Partial {
	if b.Count == 0 {
		return a
	}
	if a.Count == 0 {
		return b
	}

	na := float64(a.Count)
	nb := float64(b.Count)
	n := na + nb
	meanA := a.Sum / na
	meanB := b.Sum / nb
	delta := meanB - meanA

	out := Partial{
		Count:    a.Count + b.Count,
		Sum:      a.Sum + b.Sum,
		Sum2:     a.Sum2 + b.Sum2,
		Sum2Cent: a.Sum2Cent + b.Sum2Cent + delta*delta*(na*nb/n),
		Mean:     (meanA*na + meanB*nb) / n,
		Min:      a.Min,
		Max:      a.Max,
	}
	if b.Min < out.Min {
		out.Min = b.Min
	}
	if b.Max > out.Max {
		out.Max = b.Max
	}
	return out
}

// Partials is the deferred per-column outcome of a reduction: sums and
// centered sums are exact for the rows covered, derived statistics are not
// computed until Finalize.
type Partials struct {
	Options ResultOption
	Columns []Partial
}

// Rows returns the number of rows the record covers.
func (p *Partials) Rows() int64 {
	if len(p.Columns) == 0 {
		return 0
	}
	return p.Columns[0].Count
}
