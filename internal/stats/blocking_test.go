package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-moments/internal/device"
	"github.com/23skdu/longbow-moments/internal/table"
)

func TestChooseRowBlockCount(t *testing.T) {
	tests := []struct {
		rows int64
		want int64
	}{
		{0, 1},
		{1, 1},
		{4999, 1},
		{5000, 8},
		{9999, 8},
		{10000, 16},
		{19999, 16},
		{20000, 32},
		{49999, 32},
		{50000, 64},
		{99999, 64},
		{100000, 128},
		{1 << 40, 128},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ChooseRowBlockCount(tc.rows), "rows=%d", tc.rows)
	}
}

func TestChooseColumnBlockCount(t *testing.T) {
	assert.Equal(t, int64(1), ChooseColumnBlockCount(1, 256))
	assert.Equal(t, int64(1), ChooseColumnBlockCount(256, 256))
	assert.Equal(t, int64(2), ChooseColumnBlockCount(257, 256))
	assert.Equal(t, int64(10), ChooseColumnBlockCount(10, 1))
	assert.Equal(t, int64(10), ChooseColumnBlockCount(10, 0))
}

func TestNewPlan(t *testing.T) {
	backend := device.NewCPUBackend(device.WithMaxWorkGroupSize(16))

	t.Run("Policy", func(t *testing.T) {
		p := NewPlan(12000, 3, backend, 0)
		assert.Equal(t, int64(16), p.RowBlockCount)
		assert.Equal(t, int64(750), p.RowBlockSize)
		assert.Equal(t, 16, p.MergeLanes)
		assert.False(t, p.SinglePass())
	})

	t.Run("Forced block count is clamped to rows", func(t *testing.T) {
		p := NewPlan(3, 2, backend, 8)
		assert.Equal(t, int64(3), p.RowBlockCount)
		assert.Equal(t, int64(1), p.RowBlockSize)

		p = NewPlan(100, 2, backend, 1)
		assert.True(t, p.SinglePass())
	})

	t.Run("Merge lanes bounded by work-group size", func(t *testing.T) {
		p := NewPlan(200000, 2, backend, 0)
		assert.Equal(t, int64(128), p.RowBlockCount)
		assert.Equal(t, 16, p.MergeLanes)
	})

	t.Run("Row ranges cover every row once", func(t *testing.T) {
		for _, blocks := range []int64{2, 3, 5, 16, 128} {
			p := NewPlan(1001, 4, backend, blocks)
			var covered int64
			prevEnd := int64(0)
			for b := int64(0); b < p.RowBlockCount; b++ {
				from, to := p.RowRange(b)
				assert.Equal(t, prevEnd, from)
				assert.LessOrEqual(t, to-from, p.RowBlockSize)
				covered += to - from
				prevEnd = to
			}
			assert.Equal(t, int64(1001), covered, "blocks=%d", blocks)
		}
	})

	t.Run("Column ranges cover every column once", func(t *testing.T) {
		p := NewPlan(10, 50, backend, 0)
		var covered int64
		for cb := int64(0); cb < p.ColumnBlockCount; cb++ {
			from, to := p.ColumnRange(cb)
			assert.Less(t, from, to)
			covered += to - from
			if to < p.Cols {
				assert.Zero(t, (to-from)%int64(backend.SubGroupSize()))
			}
		}
		assert.Equal(t, int64(50), covered)
	})

	t.Run("Single pass spreads columns over items", func(t *testing.T) {
		p := NewPlan(100, 50, backend, 1)
		require.Equal(t, int64(1), p.ColumnBlockCount)
		assert.Equal(t, int64(50), p.SinglePassItems(table.ColumnMajor))

		sub := int64(backend.SubGroupSize())
		assert.Equal(t, (50+sub-1)/sub, p.SinglePassItems(table.RowMajor))

		for _, layout := range []table.Layout{table.RowMajor, table.ColumnMajor} {
			var covered int64
			prevEnd := int64(0)
			for i := int64(0); i < p.SinglePassItems(layout); i++ {
				from, to := p.SinglePassRange(layout, i)
				assert.Equal(t, prevEnd, from)
				covered += to - from
				prevEnd = to
			}
			assert.Equal(t, int64(50), covered, "layout=%s", layout)
		}
	})
}
