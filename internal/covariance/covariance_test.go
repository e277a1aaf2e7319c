package covariance

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-moments/internal/comm"
	"github.com/23skdu/longbow-moments/internal/device"
	"github.com/23skdu/longbow-moments/internal/stats"
	"github.com/23skdu/longbow-moments/internal/table"
)

const tol = 1e-9

func randomDense(seed uint64, rows, cols int) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	d := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		shared := rng.NormFloat64()
		for j := 0; j < cols; j++ {
			d.Set(i, j, 100*float64(j+1)+shared*float64(j%3)+rng.NormFloat64())
		}
	}
	return d
}

func newTestEngine(c comm.Communicator) *Engine {
	return NewEngine(device.NewCPUBackend(device.WithWorkers(4), device.WithMaxWorkGroupSize(4)), c)
}

func TestParseOptions(t *testing.T) {
	got, err := ParseOptions("Covariance, means")
	require.NoError(t, err)
	assert.Equal(t, Covariance|Means, got)
	assert.Equal(t, "covariance,means", got.String())

	got, err = ParseOptions("all")
	require.NoError(t, err)
	assert.Equal(t, AllOptions, got)

	// Unicode case folding, as in stats.ParseOptions: U+017F folds to "s".
	got, err = ParseOptions("CORRELATION, mean\u017f")
	require.NoError(t, err)
	assert.Equal(t, Correlation|Means, got)

	got, err = ParseOptions("ALL")
	require.NoError(t, err)
	assert.Equal(t, AllOptions, got)

	_, err = ParseOptions("")
	assert.ErrorIs(t, err, ErrNoOptions)
	_, err = ParseOptions("kurtosis")
	assert.ErrorIs(t, err, ErrUnknownOption)
}

func TestCompute_KnownInput(t *testing.T) {
	m := table.NewDense(3, 2, []float64{1, 2, 2, 4, 3, 6})
	res, err := newTestEngine(nil).Compute(context.Background(), Descriptor{Options: AllOptions}, m)
	require.NoError(t, err)

	want := mat.NewSymDense(2, []float64{1, 2, 2, 4})
	assert.True(t, mat.EqualApprox(want, res.Covariance, tol))
	ones := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	assert.True(t, mat.EqualApprox(ones, res.Correlation, tol))
	assert.InDeltaSlice(t, []float64{2, 4}, res.Means, tol)
}

func TestCompute_MatchesGonum(t *testing.T) {
	const rows, cols = 5003, 5
	x := randomDense(1, rows, cols)
	var wantCov, wantCorr mat.SymDense
	stat.CovarianceMatrix(&wantCov, x, nil)
	stat.CorrelationMatrix(&wantCorr, x, nil)

	for name, m := range map[string]*table.Matrix{
		"RowMajor":    table.FromDense(x),
		"ColumnMajor": table.FromDense(mat.DenseCopyOf(x.T())).T(),
	} {
		t.Run(name, func(t *testing.T) {
			for _, blocks := range []int64{0, 1, 3, 16} {
				res, err := newTestEngine(nil).Compute(context.Background(),
					Descriptor{Options: AllOptions, RowBlockCount: blocks}, m)
				require.NoError(t, err)
				assert.True(t, mat.EqualApprox(&wantCov, res.Covariance, 1e-8), "blocks=%d", blocks)
				assert.True(t, mat.EqualApprox(&wantCorr, res.Correlation, 1e-8), "blocks=%d", blocks)
				for j := 0; j < cols; j++ {
					assert.InDelta(t, stat.Mean(mat.Col(nil, j, x), nil), res.Means[j], 1e-8)
				}
			}
		})
	}
}

func TestCompute_Bias(t *testing.T) {
	const rows = 40
	x := randomDense(2, rows, 3)
	var want mat.SymDense
	stat.CovarianceMatrix(&want, x, nil)
	want.ScaleSym(float64(rows-1)/rows, &want)

	res, err := newTestEngine(nil).Compute(context.Background(),
		Descriptor{Options: Covariance, Bias: true, RowBlockCount: 4}, table.FromDense(x))
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(&want, res.Covariance, 1e-9))
	assert.Nil(t, res.Correlation)
	assert.Nil(t, res.Means)
}

func TestCompute_AssumeCentered(t *testing.T) {
	const rows = 60
	x := randomDense(3, rows, 4)
	var want mat.SymDense
	want.SymOuterK(1/float64(rows-1), x.T())

	res, err := newTestEngine(nil).Compute(context.Background(),
		Descriptor{Options: Covariance | Means, AssumeCentered: true, RowBlockCount: 5}, table.FromDense(x))
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(&want, res.Covariance, 1e-7))
	assert.InDelta(t, stat.Mean(mat.Col(nil, 0, x), nil), res.Means[0], 1e-9)
}

func TestCompute_Degenerate(t *testing.T) {
	res, err := newTestEngine(nil).Compute(context.Background(),
		Descriptor{Options: Covariance}, table.NewDense(1, 2, []float64{3, 4}))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(res.Covariance.At(0, 0)))

	_, err = newTestEngine(nil).Compute(context.Background(), Descriptor{}, table.NewDense(1, 1, []float64{1}))
	assert.ErrorIs(t, err, ErrNoOptions)
	_, err = newTestEngine(nil).Compute(context.Background(), Descriptor{Options: Means}, nil)
	assert.ErrorIs(t, err, stats.ErrEmptyMatrix)
}

func TestCompute_Distributed(t *testing.T) {
	const rows, cols = 997, 4
	x := randomDense(4, rows, cols)
	m := table.FromDense(x)
	desc := Descriptor{Options: AllOptions, RowBlockCount: 2}

	single, err := newTestEngine(nil).Compute(context.Background(), desc, m)
	require.NoError(t, err)

	for _, size := range []int{2, 3, 8} {
		members, err := comm.NewGroup(size)
		require.NoError(t, err)
		results := make([]*Result, size)
		g, ctx := errgroup.WithContext(context.Background())
		for r := 0; r < size; r++ {
			g.Go(func() error {
				res, err := newTestEngine(members[r]).Compute(ctx, desc, m.SliceRows(r*rows/size, (r+1)*rows/size))
				results[r] = res
				return err
			})
		}
		require.NoError(t, g.Wait())

		for r, res := range results {
			assert.True(t, mat.EqualApprox(single.Covariance, res.Covariance, 1e-8), "size=%d rank=%d", size, r)
			assert.True(t, mat.EqualApprox(single.Correlation, res.Correlation, 1e-8), "size=%d rank=%d", size, r)
			assert.InDeltaSlice(t, single.Means, res.Means, 1e-8)
		}
	}
}

func TestPackRoundTrip(t *testing.T) {
	src := mat.NewSymDense(3, []float64{
		1, 2, 3,
		2, 4, 5,
		3, 5, 6,
	})
	buf := make([]float64, packedLen(3))
	pack(blas64.SymmetricPacked{N: 3, Uplo: blas.Upper, Data: buf}, src.RawSymmetric())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, buf)

	dst := mat.NewSymDense(3, nil)
	unpackInto(dst.RawSymmetric(), blas64.SymmetricPacked{N: 3, Uplo: blas.Upper, Data: buf})
	assert.True(t, mat.Equal(src, dst))
}
