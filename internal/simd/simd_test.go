package simd

import (
	"math"
	"testing"
)

func TestVecAdd(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5}
	src := []float64{10, 20, 30, 40, 50}
	expected := []float64{11, 22, 33, 44, 55}

	VecAdd(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAdd(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecAddSquares(t *testing.T) {
	dst := []float64{1, 1, 1, 1, 1}
	src := []float64{1, 2, 3, 4, 5}
	expected := []float64{2, 5, 10, 17, 26}

	VecAddSquares(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAddSquares(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecScaleTo(t *testing.T) {
	src := []float64{1, 2, 3, 4, 5, 6}
	dst := make([]float64, len(src))

	VecScaleTo(dst, src, 0.5)

	for i, v := range dst {
		if v != src[i]*0.5 {
			t.Errorf("VecScaleTo(%d) = %f, want %f", i, v, src[i]*0.5)
		}
	}
}

func TestVecMinMax(t *testing.T) {
	lo := []float64{math.Inf(1), math.Inf(1), 0}
	hi := []float64{math.Inf(-1), math.Inf(-1), 0}

	for _, row := range [][]float64{{3, -1, 5}, {-2, 7, -5}} {
		VecMin(lo, row)
		VecMax(hi, row)
	}

	wantLo := []float64{-2, -1, -5}
	wantHi := []float64{3, 7, 5}
	for i := range lo {
		if lo[i] != wantLo[i] || hi[i] != wantHi[i] {
			t.Errorf("lane %d: got [%f, %f], want [%f, %f]", i, lo[i], hi[i], wantLo[i], wantHi[i])
		}
	}
}

func TestWelfordUpdate(t *testing.T) {
	// Five lanes so both the unrolled body and the tail run.
	rows := [][]float64{
		{1, 2, 3, 4, 5},
		{3, 4, 5, 6, 7},
		{5, 6, 7, 8, 9},
	}
	mean := make([]float64, 5)
	m2 := make([]float64, 5)

	for n, row := range rows {
		WelfordUpdate(mean, m2, row, 1/float64(n+1))
	}

	for i := range mean {
		wantMean := rows[1][i]
		if math.Abs(mean[i]-wantMean) > 1e-12 {
			t.Errorf("mean[%d] = %f, want %f", i, mean[i], wantMean)
		}
		// (-2)^2 + 0 + 2^2
		if math.Abs(m2[i]-8) > 1e-12 {
			t.Errorf("m2[%d] = %f, want 8", i, m2[i])
		}
	}
}

func TestFill(t *testing.T) {
	dst := make([]float64, 3)
	Fill(dst, 2.5)
	for i, v := range dst {
		if v != 2.5 {
			t.Errorf("Fill(%d) = %f", i, v)
		}
	}
}
