package stats

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Result maps each requested statistic to a 1 x columns matrix.
type Result struct {
	options ResultOption
	values  map[ResultOption]*mat.Dense
}

// Assemble wraps the finalized vectors without copying. Requesting a
// statistic that Finalize did not allocate is a programming error and panics.
func Assemble(m *Moments) *Result {
	r := &Result{
		options: m.Options,
		values:  make(map[ResultOption]*mat.Dense),
	}
	for _, opt := range m.Options.List() {
		v := *m.slot(opt)
		if v == nil {
			panic(fmt.Sprintf("stats: %s requested but never allocated", opt.Name()))
		}
		r.values[opt] = mat.NewDense(1, len(v), v)
	}
	return r
}

// Options returns the statistics the result holds.
func (r *Result) Options() ResultOption { return r.options }

// Get returns the 1 x columns matrix of opt, or nil if it was not requested.
func (r *Result) Get(opt ResultOption) *mat.Dense {
	return r.values[opt]
}

// Vector returns a copy of opt's values, or nil if it was not requested.
func (r *Result) Vector(opt ResultOption) []float64 {
	d := r.values[opt]
	if d == nil {
		return nil
	}
	return mat.Row(nil, 0, d)
}

// Each calls fn for every statistic in canonical order.
func (r *Result) Each(fn func(opt ResultOption, values *mat.Dense)) {
	for _, opt := range r.options.List() {
		fn(opt, r.values[opt])
	}
}
