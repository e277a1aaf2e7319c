package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// runRanks drives fn once per rank on its own goroutine.
func runRanks(t *testing.T, size int, fn func(c Communicator) error) {
	t.Helper()
	members, err := NewGroup(size)
	require.NoError(t, err)

	var g errgroup.Group
	for _, c := range members {
		g.Go(func() error { return fn(c) })
	}
	require.NoError(t, g.Wait())
}

func TestLocal(t *testing.T) {
	c := Local()
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())

	buf := []float64{1, 2}
	require.NoError(t, c.AllReduce(context.Background(), buf, Sum).Wait())
	assert.Equal(t, []float64{1, 2}, buf)

	recv := make([]float64, 2)
	require.NoError(t, c.AllGather(context.Background(), buf, recv).Wait())
	assert.Equal(t, buf, recv)

	assert.ErrorIs(t, c.AllGather(context.Background(), buf, make([]float64, 3)).Wait(), ErrBufferSize)
}

func TestNewGroup_BadSize(t *testing.T) {
	_, err := NewGroup(0)
	assert.ErrorIs(t, err, ErrBadSize)
}

func TestGroup_AllReduce(t *testing.T) {
	for _, size := range []int{1, 2, 4, 8} {
		runRanks(t, size, func(c Communicator) error {
			ctx := context.Background()
			r := float64(c.Rank())

			sum := []float64{r, 1}
			if err := c.AllReduce(ctx, sum, Sum).Wait(); err != nil {
				return err
			}
			lo := []float64{r, -r}
			if err := c.AllReduce(ctx, lo, Min).Wait(); err != nil {
				return err
			}
			hi := []float64{r, -r}
			if err := c.AllReduce(ctx, hi, Max).Wait(); err != nil {
				return err
			}

			n := float64(size)
			assert.Equal(t, []float64{n * (n - 1) / 2, n}, sum)
			assert.Equal(t, []float64{0, -(n - 1)}, lo)
			assert.Equal(t, []float64{n - 1, 0}, hi)
			return nil
		})
	}
}

func TestGroup_AllGather(t *testing.T) {
	const size = 4
	runRanks(t, size, func(c Communicator) error {
		send := []float64{float64(c.Rank()), float64(10 * c.Rank())}
		recv := make([]float64, size*len(send))
		if err := c.AllGather(context.Background(), send, recv).Wait(); err != nil {
			return err
		}
		assert.Equal(t, []float64{0, 0, 1, 10, 2, 20, 3, 30}, recv)
		return nil
	})
}

func TestGroup_Mismatch(t *testing.T) {
	members, err := NewGroup(2)
	require.NoError(t, err)
	ctx := context.Background()

	r0 := members[0].AllReduce(ctx, []float64{1, 2}, Sum)
	r1 := members[1].AllReduce(ctx, []float64{1}, Sum)
	assert.ErrorIs(t, r0.Wait(), ErrMismatch)
	assert.ErrorIs(t, r1.Wait(), ErrMismatch)

	// A bad receive buffer on one rank fails the round everywhere.
	g0 := members[0].AllGather(ctx, []float64{1}, make([]float64, 2))
	g1 := members[1].AllGather(ctx, []float64{1}, make([]float64, 1))
	assert.ErrorIs(t, g0.Wait(), ErrBufferSize)
	assert.ErrorIs(t, g1.Wait(), ErrBufferSize)
}

func TestGroup_WaitBlocksUntilAllRanksJoin(t *testing.T) {
	members, err := NewGroup(2)
	require.NoError(t, err)
	ctx := context.Background()

	buf0 := []float64{1}
	req := members[0].AllReduce(ctx, buf0, Sum)
	select {
	case <-req.Done():
		t.Fatal("collective finished before rank 1 joined")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, members[1].AllReduce(ctx, []float64{2}, Sum).Wait())
	require.NoError(t, req.Wait())
	assert.Equal(t, []float64{3}, buf0)
}

func TestGroup_ContextCancel(t *testing.T) {
	members, err := NewGroup(2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req := members[0].AllReduce(ctx, []float64{1}, Sum)
	cancel()
	assert.ErrorIs(t, req.Wait(), context.Canceled)
}
