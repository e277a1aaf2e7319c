package stats

import "math"

// Moments holds the finalized per-column statistics. Only the slices of
// requested statistics are allocated.
type Moments struct {
	Options ResultOption

	Min                  []float64
	Max                  []float64
	Sum                  []float64
	SumSquares           []float64
	SumSquaresCentered   []float64
	Mean                 []float64
	SecondOrderRawMoment []float64
	Variance             []float64
	StandardDeviation    []float64
	Variation            []float64
}

func (m *Moments) slot(opt ResultOption) *[]float64 {
	switch opt {
	case Min:
		return &m.Min
	case Max:
		return &m.Max
	case Sum:
		return &m.Sum
	case SumSquares:
		return &m.SumSquares
	case SumSquaresCentered:
		return &m.SumSquaresCentered
	case Mean:
		return &m.Mean
	case SecondOrderRawMoment:
		return &m.SecondOrderRawMoment
	case Variance:
		return &m.Variance
	case StandardDeviation:
		return &m.StandardDeviation
	case Variation:
		return &m.Variation
	}
	return nil
}

// Finalize derives the requested statistics from a merged record. It is
// called exactly once per compute, after any cross-rank merge, so the row
// count it divides by is the global one.
//
// Degenerate inputs are not guarded: one row yields a NaN variance, a zero
// mean yields an infinite or NaN variation.
func Finalize(p *Partials) *Moments {
	m := &Moments{Options: p.Options}
	cols := len(p.Columns)
	for _, opt := range p.Options.List() {
		*m.slot(opt) = make([]float64, cols)
	}

	for j, c := range p.Columns {
		n := float64(c.Count)
		variance := c.Sum2Cent / (n - 1)
		stdev := math.Sqrt(variance)

		set(m.Min, j, c.Min)
		set(m.Max, j, c.Max)
		set(m.Sum, j, c.Sum)
		set(m.SumSquares, j, c.Sum2)
		set(m.SumSquaresCentered, j, c.Sum2Cent)
		set(m.Mean, j, c.Mean)
		set(m.SecondOrderRawMoment, j, c.Sum2/n)
		set(m.Variance, j, variance)
		set(m.StandardDeviation, j, stdev)
		set(m.Variation, j, stdev/c.Mean)
	}
	return m
}

func set(dst []float64, j int, v float64) {
	if dst != nil {
		dst[j] = v
	}
}
