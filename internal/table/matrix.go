// Package table provides the non-owning matrix views the statistics engines
// read from. A Matrix never copies on construction, transposition or row
// slicing; every element access is bounds-checked against the view's shape.
package table

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Layout tags the physical order of a Matrix buffer.
type Layout int

const (
	RowMajor Layout = iota
	ColumnMajor
)

func (l Layout) String() string {
	switch l {
	case RowMajor:
		return "row-major"
	case ColumnMajor:
		return "column-major"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

var (
	// ErrBadShape is returned for negative dimensions.
	ErrBadShape = errors.New("table: invalid shape")
	// ErrBadStride is returned when the stride cannot hold one row (row-major)
	// or one column (column-major).
	ErrBadStride = errors.New("table: invalid stride")
	// ErrShortBuffer is returned when the buffer ends before the last element.
	ErrShortBuffer = errors.New("table: buffer too short for shape")
	// ErrBadLayout is returned for an unknown layout tag.
	ErrBadLayout = errors.New("table: unknown layout")
)

// Matrix is a strided 2-D view over a float64 buffer.
//
// Row-major: element (i, j) lives at data[i*stride+j], stride >= cols.
// Column-major: element (i, j) lives at data[j*stride+i], stride >= rows.
type Matrix struct {
	data   []float64
	rows   int
	cols   int
	stride int
	layout Layout
}

// NewMatrix validates the shape/stride/buffer invariants and returns a view.
// A zero stride selects the dense stride for the layout.
func NewMatrix(data []float64, rows, cols, stride int, layout Layout) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadShape, rows, cols)
	}

	var lead, minor int
	switch layout {
	case RowMajor:
		lead, minor = rows, cols
	case ColumnMajor:
		lead, minor = cols, rows
	default:
		return nil, ErrBadLayout
	}

	if stride == 0 {
		stride = minor
	}
	if stride < minor {
		return nil, fmt.Errorf("%w: stride %d for %s %dx%d", ErrBadStride, stride, layout, rows, cols)
	}

	need := 0
	if lead > 0 && minor > 0 {
		need = (lead-1)*stride + minor
	}
	if len(data) < need {
		return nil, fmt.Errorf("%w: have %d elements, need %d", ErrShortBuffer, len(data), need)
	}

	return &Matrix{
		data:   data,
		rows:   rows,
		cols:   cols,
		stride: stride,
		layout: layout,
	}, nil
}

// NewDense allocates a dense row-major matrix and copies data into it.
// It panics if len(data) != rows*cols, like gonum's constructors.
func NewDense(rows, cols int, data []float64) *Matrix {
	if rows < 0 || cols < 0 {
		panic(ErrBadShape)
	}
	buf := make([]float64, rows*cols)
	if data != nil {
		if len(data) != rows*cols {
			panic("table: NewDense data length does not match dimensions")
		}
		copy(buf, data)
	}
	return &Matrix{data: buf, rows: rows, cols: cols, stride: cols, layout: RowMajor}
}

// FromDense wraps the backing store of a gonum matrix without copying.
func FromDense(d *mat.Dense) *Matrix {
	raw := d.RawMatrix()
	return &Matrix{
		data:   raw.Data,
		rows:   raw.Rows,
		cols:   raw.Cols,
		stride: raw.Stride,
		layout: RowMajor,
	}
}

// Dims returns the logical (rows, cols).
func (m *Matrix) Dims() (int, int) { return m.rows, m.cols }

func (m *Matrix) Layout() Layout { return m.layout }

func (m *Matrix) Stride() int { return m.stride }

func (m *Matrix) offset(i, j int) int {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Sprintf("table: index (%d, %d) out of range for %dx%d", i, j, m.rows, m.cols))
	}
	if m.layout == RowMajor {
		return i*m.stride + j
	}
	return j*m.stride + i
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float64 {
	return m.data[m.offset(i, j)]
}

// Row returns the contiguous storage of row i. The view must be row-major.
func (m *Matrix) Row(i int) []float64 {
	if m.layout != RowMajor {
		panic("table: Row on column-major view")
	}
	if i < 0 || i >= m.rows {
		panic(fmt.Sprintf("table: row %d out of range [0,%d)", i, m.rows))
	}
	start := i * m.stride
	return m.data[start : start+m.cols : start+m.cols]
}

// Col returns the contiguous storage of column j. The view must be column-major.
func (m *Matrix) Col(j int) []float64 {
	if m.layout != ColumnMajor {
		panic("table: Col on row-major view")
	}
	if j < 0 || j >= m.cols {
		panic(fmt.Sprintf("table: column %d out of range [0,%d)", j, m.cols))
	}
	start := j * m.stride
	return m.data[start : start+m.rows : start+m.rows]
}

// T returns the transposed view sharing the same buffer.
func (m *Matrix) T() *Matrix {
	layout := ColumnMajor
	if m.layout == ColumnMajor {
		layout = RowMajor
	}
	return &Matrix{
		data:   m.data,
		rows:   m.cols,
		cols:   m.rows,
		stride: m.stride,
		layout: layout,
	}
}

// SliceRows returns the view of rows [from, to).
func (m *Matrix) SliceRows(from, to int) *Matrix {
	if from < 0 || to < from || to > m.rows {
		panic(fmt.Sprintf("table: row slice [%d,%d) out of range [0,%d)", from, to, m.rows))
	}
	out := &Matrix{
		rows:   to - from,
		cols:   m.cols,
		stride: m.stride,
		layout: m.layout,
	}
	if out.rows == 0 || m.cols == 0 {
		return out
	}
	if m.layout == RowMajor {
		out.data = m.data[from*m.stride:]
	} else {
		out.data = m.data[from:]
	}
	return out
}

// Dense copies the view into a new gonum matrix.
func (m *Matrix) Dense() *mat.Dense {
	if m.rows == 0 || m.cols == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(m.rows, m.cols, nil)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out
}
