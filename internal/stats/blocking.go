package stats

import (
	"github.com/23skdu/longbow-moments/internal/device"
	"github.com/23skdu/longbow-moments/internal/table"
)

// rowBlockPolicy maps row-count thresholds to row-block counts. The values
// are a tuning heuristic; the first threshold the row count is below wins.
var rowBlockPolicy = []struct {
	below  int64
	blocks int64
}{
	{5000, 1},
	{10000, 8},
	{20000, 16},
	{50000, 32},
	{100000, 64},
}

const maxRowBlocks = 128

// ChooseRowBlockCount returns the number of row blocks for rowCount rows.
// One block selects the single-pass path.
func ChooseRowBlockCount(rowCount int64) int64 {
	for _, p := range rowBlockPolicy {
		if rowCount < p.below {
			return p.blocks
		}
	}
	return maxRowBlocks
}

// ChooseColumnBlockCount returns ceil(columnCount / maxWorkGroupSize).
func ChooseColumnBlockCount(columnCount, maxWorkGroupSize int64) int64 {
	if maxWorkGroupSize < 1 {
		maxWorkGroupSize = 1
	}
	return ceilDiv(columnCount, maxWorkGroupSize)
}

// Plan is the launch geometry of one local reduction.
type Plan struct {
	Rows int64
	Cols int64

	RowBlockCount int64
	RowBlockSize  int64

	ColumnBlockCount int64
	ColumnBlockSize  int64
	SubGroupSize     int64

	// MergeLanes is the work-group width of the block-merge kernel.
	MergeLanes int
}

// NewPlan derives the geometry for a rows x cols input on backend b.
// forcedRowBlocks > 0 overrides the row-block policy.
func NewPlan(rows, cols int64, b device.Backend, forcedRowBlocks int64) Plan {
	p := Plan{Rows: rows, Cols: cols}

	p.RowBlockCount = forcedRowBlocks
	if p.RowBlockCount <= 0 {
		p.RowBlockCount = ChooseRowBlockCount(rows)
	}
	if rows > 0 && p.RowBlockCount > rows {
		p.RowBlockCount = rows
	}
	if p.RowBlockCount < 1 {
		p.RowBlockCount = 1
	}
	p.RowBlockSize = ceilDiv(rows, p.RowBlockCount)

	maxWG := int64(b.MaxWorkGroupSize())
	p.ColumnBlockCount = ChooseColumnBlockCount(cols, maxWG)
	if p.ColumnBlockCount < 1 {
		p.ColumnBlockCount = 1
	}
	// Column blocks are widened to a whole number of sub-groups so the row
	// sweeps stay vector aligned; this may drop a trailing block.
	sub := int64(b.SubGroupSize())
	if sub < 1 {
		sub = 1
	}
	p.SubGroupSize = sub
	p.ColumnBlockSize = ceilDiv(ceilDiv(cols, p.ColumnBlockCount), sub) * sub
	if p.ColumnBlockSize > 0 {
		p.ColumnBlockCount = ceilDiv(cols, p.ColumnBlockSize)
	}

	lanes := p.RowBlockCount
	if lanes > maxWG {
		lanes = maxWG
	}
	p.MergeLanes = int(lanes)
	return p
}

// SinglePass reports whether the plan uses the single-pass reducer.
func (p Plan) SinglePass() bool {
	return p.RowBlockCount == 1
}

// SinglePassWidth is the number of columns one single-pass item owns: one
// column for column-major views, one sub-group for row-major views.
func (p Plan) SinglePassWidth(layout table.Layout) int64 {
	if layout == table.ColumnMajor || p.SubGroupSize < 1 {
		return 1
	}
	return p.SubGroupSize
}

// SinglePassItems is the launch size of the single-pass reducer.
func (p Plan) SinglePassItems(layout table.Layout) int64 {
	return ceilDiv(p.Cols, p.SinglePassWidth(layout))
}

// SinglePassRange returns the half-open column range of single-pass item i.
func (p Plan) SinglePassRange(layout table.Layout, i int64) (int64, int64) {
	w := p.SinglePassWidth(layout)
	return clampRange(i*w, w, p.Cols)
}

// RowRange returns the half-open row range of block b. Trailing blocks may be
// shorter than RowBlockSize or empty.
func (p Plan) RowRange(b int64) (int64, int64) {
	return clampRange(b*p.RowBlockSize, p.RowBlockSize, p.Rows)
}

// ColumnRange returns the half-open column range of column block cb.
func (p Plan) ColumnRange(cb int64) (int64, int64) {
	return clampRange(cb*p.ColumnBlockSize, p.ColumnBlockSize, p.Cols)
}

func clampRange(from, size, limit int64) (int64, int64) {
	to := from + size
	if from > limit {
		from = limit
	}
	if to > limit {
		to = limit
	}
	return from, to
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
