package covariance

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Partial is the running cross-product record of a set of rows. C holds the
// centered cross-products, or the raw ones when the data is assumed
// centered. A zero N marks the identity record.
type Partial struct {
	N     int64
	Sums  []float64
	Means []float64
	C     *mat.SymDense
}

func newPartial(dim int) *Partial {
	return &Partial{
		Sums:  make([]float64, dim),
		Means: make([]float64, dim),
		C:     mat.NewSymDense(dim, nil),
	}
}

// accumulator folds rows into a Partial one at a time.
type accumulator struct {
	p        *Partial
	centered bool
	delta    []float64
	vec      *mat.VecDense
}

func newAccumulator(dim int, centered bool) *accumulator {
	delta := make([]float64, dim)
	return &accumulator{
		p:        newPartial(dim),
		centered: centered,
		delta:    delta,
		vec:      mat.NewVecDense(dim, delta),
	}
}

// add applies the Welford rank-one update
//
//	delta = x - mean;  mean += delta/n;  C += (n-1)/n * delta*delta^T
func (a *accumulator) add(x []float64) {
	p := a.p
	p.N++
	n := float64(p.N)
	floats.Add(p.Sums, x)
	if !a.centered {
		copy(a.delta, x)
		p.C.SymRankOne(p.C, 1, a.vec)
		floats.ScaleTo(p.Means, 1/n, p.Sums)
		return
	}
	for i, v := range x {
		a.delta[i] = v - p.Means[i]
		p.Means[i] += a.delta[i] / n
	}
	p.C.SymRankOne(p.C, (n-1)/n, a.vec)
}

// merger returns the pairwise combine of two records:
//
//	C = C_a + C_b + n_a*n_b/n * d*d^T,  d = mean_b - mean_a
//
// The correction term is dropped for data assumed centered.
func merger(centered bool) func(a, b Partial) Partial {
	return func(a, b Partial) Partial {
		if b.N == 0 {
			return a
		}
		if a.N == 0 {
			return b
		}
		dim := len(a.Sums)
		na, nb := float64(a.N), float64(b.N)
		n := na + nb

		out := *newPartial(dim)
		out.N = a.N + b.N
		floats.AddTo(out.Sums, a.Sums, b.Sums)
		floats.ScaleTo(out.Means, 1/n, out.Sums)
		out.C.AddSym(a.C, b.C)
		if centered {
			d := make([]float64, dim)
			for i := range d {
				d[i] = b.Sums[i]/nb - a.Sums[i]/na
			}
			out.C.SymRankOne(out.C, na*nb/n, mat.NewVecDense(dim, d))
		}
		return out
	}
}
