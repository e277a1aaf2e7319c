package covariance

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Result holds the requested outputs; unrequested fields are nil.
type Result struct {
	Options     Option
	Covariance  *mat.SymDense
	Correlation *mat.SymDense
	Means       []float64
}

// Finalize derives the outputs from a merged record. Fewer than two rows
// make the unbiased estimator NaN; a constant column makes its correlations
// NaN.
func Finalize(p *Partial, desc Descriptor) *Result {
	res := &Result{Options: desc.Options}
	dim := len(p.Sums)
	n := float64(p.N)

	if desc.Options.Has(Means) {
		res.Means = make([]float64, dim)
		copy(res.Means, p.Means)
	}
	if !desc.Options.Has(Covariance) && !desc.Options.Has(Correlation) {
		return res
	}

	div := n - 1
	if desc.Bias {
		div = n
	}
	cov := mat.NewSymDense(dim, nil)
	cov.ScaleSym(1/div, p.C)
	if desc.Options.Has(Covariance) {
		res.Covariance = cov
	}
	if desc.Options.Has(Correlation) {
		corr := mat.NewSymDense(dim, nil)
		for i := 0; i < dim; i++ {
			for j := i; j < dim; j++ {
				corr.SetSym(i, j, cov.At(i, j)/math.Sqrt(cov.At(i, i)*cov.At(j, j)))
			}
		}
		res.Correlation = corr
	}
	return res
}
