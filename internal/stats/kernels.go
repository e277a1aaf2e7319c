package stats

import (
	"math"

	"github.com/23skdu/longbow-moments/internal/device"
	"github.com/23skdu/longbow-moments/internal/reduce"
	"github.com/23skdu/longbow-moments/internal/simd"
	"github.com/23skdu/longbow-moments/internal/table"
)

// accumulator holds the running moments of a contiguous range of columns.
// Slices for statistics that were not requested stay nil.
type accumulator struct {
	req  requirements
	sum  []float64
	sum2 []float64
	mean []float64
	m2   []float64
	min  []float64
	max  []float64

	scratch []float64
}

func newAccumulator(width int, req requirements) *accumulator {
	a := &accumulator{req: req, sum: make([]float64, width)}
	if req.sum2 {
		a.sum2 = make([]float64, width)
	}
	if req.centered {
		a.mean = make([]float64, width)
		a.m2 = make([]float64, width)
	}
	if req.minMax {
		a.min = make([]float64, width)
		a.max = make([]float64, width)
		simd.Fill(a.min, math.Inf(1))
		simd.Fill(a.max, math.Inf(-1))
	}
	return a
}

// sweep accumulates rows [r0, r1) of columns [c0, c1). Weights, when
// present, scale each value before it is accumulated.
func (a *accumulator) sweep(m *table.Matrix, weights []float64, r0, r1, c0, c1 int) {
	if m.Layout() == table.RowMajor {
		a.sweepRows(m, weights, r0, r1, c0, c1)
		return
	}
	a.sweepColumns(m, weights, r0, r1, c0, c1)
}

// sweepRows walks a row-major view one row at a time, updating every column
// of the range with vector kernels.
func (a *accumulator) sweepRows(m *table.Matrix, weights []float64, r0, r1, c0, c1 int) {
	if weights != nil && a.scratch == nil {
		a.scratch = make([]float64, c1-c0)
	}
	for i := r0; i < r1; i++ {
		x := m.Row(i)[c0:c1]
		if weights != nil {
			simd.VecScaleTo(a.scratch, x, weights[i])
			x = a.scratch
		}
		simd.VecAdd(a.sum, x)
		if a.req.sum2 {
			simd.VecAddSquares(a.sum2, x)
		}
		if a.req.centered {
			simd.WelfordUpdate(a.mean, a.m2, x, 1/float64(i-r0+1))
		}
		if a.req.minMax {
			simd.VecMin(a.min, x)
			simd.VecMax(a.max, x)
		}
	}
}

// sweepColumns walks a column-major view one contiguous column at a time.
func (a *accumulator) sweepColumns(m *table.Matrix, weights []float64, r0, r1, c0, c1 int) {
	for j := c0; j < c1; j++ {
		col := m.Col(j)[r0:r1]
		var sum, sum2, mean, m2 float64
		lo, hi := math.Inf(1), math.Inf(-1)

		for i, x := range col {
			if weights != nil {
				x *= weights[r0+i]
			}
			sum += x
			sum2 += x * x
			if a.req.centered {
				delta := x - mean
				mean += delta * (1 / float64(i+1))
				m2 += delta * (x - mean)
			}
			if x < lo {
				lo = x
			}
			if x > hi {
				hi = x
			}
		}

		k := j - c0
		a.sum[k] = sum
		if a.req.sum2 {
			a.sum2[k] = sum2
		}
		if a.req.centered {
			a.mean[k] = mean
			a.m2[k] = m2
		}
		if a.req.minMax {
			a.min[k] = lo
			a.max[k] = hi
		}
	}
}

// partial extracts the record of column k of the range over count rows.
func (a *accumulator) partial(k int, count int64) Partial {
	p := Identity()
	if count == 0 {
		return p
	}
	p.Count = count
	p.Sum = a.sum[k]
	if a.req.sum2 {
		p.Sum2 = a.sum2[k]
	}
	if a.req.centered {
		p.Mean = a.mean[k]
		p.Sum2Cent = a.m2[k]
	} else {
		p.Mean = p.Sum / float64(count)
	}
	if a.req.minMax {
		p.Min = a.min[k]
		p.Max = a.max[k]
	}
	return p
}

// launch binds the inputs of one local reduction to its kernels.
type launch struct {
	data    *table.Matrix
	weights []float64
	plan    Plan
	req     requirements
}

// singlePass returns the kernel of the one-block path: one item per column
// (or per sub-group of columns in row-major views), each sweeping every row.
func (l *launch) singlePass(out []Partial) device.Kernel {
	layout := l.data.Layout()
	return func(item int) {
		c0, c1 := l.plan.SinglePassRange(layout, int64(item))
		if c0 == c1 {
			return
		}
		acc := newAccumulator(int(c1-c0), l.req)
		acc.sweep(l.data, l.weights, 0, int(l.plan.Rows), int(c0), int(c1))
		for j := c0; j < c1; j++ {
			out[j] = acc.partial(int(j-c0), l.plan.Rows)
		}
	}
}

// blockPartials returns the kernel of the block-parallel path: one item per
// (row block, column block) pair, writing raw partials laid out as
// out[column*RowBlockCount + block].
func (l *launch) blockPartials(out []Partial) device.Kernel {
	rbc := l.plan.RowBlockCount
	cbc := l.plan.ColumnBlockCount
	return func(item int) {
		b := int64(item) / cbc
		r0, r1 := l.plan.RowRange(b)
		c0, c1 := l.plan.ColumnRange(int64(item) % cbc)
		if c0 == c1 {
			return
		}

		acc := newAccumulator(int(c1-c0), l.req)
		if r1 > r0 {
			acc.sweep(l.data, l.weights, int(r0), int(r1), int(c0), int(c1))
		}
		for j := c0; j < c1; j++ {
			out[j*rbc+b] = acc.partial(int(j-c0), r1-r0)
		}
	}
}

// mergeBlocks returns the kernel that folds each column's block partials
// into one record: one work-group per column.
func (l *launch) mergeBlocks(blocks, out []Partial) device.Kernel {
	rbc := int(l.plan.RowBlockCount)
	return func(col int) {
		items := blocks[col*rbc : (col+1)*rbc]
		out[col] = reduce.WorkGroup(items, l.plan.MergeLanes, Identity(), Partial.Merge)
	}
}
