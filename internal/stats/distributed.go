package stats

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-moments/internal/comm"
	"github.com/23skdu/longbow-moments/internal/reduce"
)

// gatherFields is the number of values each rank publishes per column in the
// all-gather: count, sum and centered sum of squares.
const gatherFields = 3

// MergeRanks combines every rank's deferred record into the global record.
// Every rank of c must call it with the same options and column count; the
// result is replicated on all ranks. A single-rank communicator returns local
// unchanged.
//
// A rank that never joins a collective blocks its peers until ctx is done, so
// callers must pass a context that is canceled when any rank fails, such as
// the context of an errgroup shared by all ranks. MergeRanks returns at the
// first failed collective without waiting for the rest.
//
// Min, max and the sum of squares are combined by a direct all-reduce. The
// count, sum and centered sum of squares are all-gathered and merged in rank
// order with Chan's formula, since centered sums cannot be added directly.
func MergeRanks(ctx context.Context, c comm.Communicator, local *Partials) (*Partials, error) {
	if c.Size() == 1 {
		return local, nil
	}

	cols := len(local.Columns)
	req := requirementsOf(local.Options)

	var pending []*comm.Request
	var mins, maxs, sum2 []float64
	if req.minMax {
		mins = make([]float64, cols)
		maxs = make([]float64, cols)
		for j, p := range local.Columns {
			mins[j] = p.Min
			maxs[j] = p.Max
		}
		pending = append(pending,
			c.AllReduce(ctx, mins, comm.Min),
			c.AllReduce(ctx, maxs, comm.Max),
		)
	}
	if req.sum2 {
		sum2 = make([]float64, cols)
		for j, p := range local.Columns {
			sum2[j] = p.Sum2
		}
		pending = append(pending, c.AllReduce(ctx, sum2, comm.Sum))
	}

	// Rank r's slice starts at r*blockStride; inside it the counts, sums and
	// centered sums are stored as three consecutive column vectors.
	blockStride := gatherFields * cols
	send := make([]float64, blockStride)
	for j, p := range local.Columns {
		send[j] = float64(p.Count)
		send[cols+j] = p.Sum
		send[2*cols+j] = p.Sum2Cent
	}
	recv := make([]float64, blockStride*c.Size())
	pending = append(pending, c.AllGather(ctx, send, recv))

	for _, r := range pending {
		if err := r.Wait(); err != nil {
			if errors.Is(err, comm.ErrMismatch) {
				return nil, fmt.Errorf("%w: %w", ErrColumnMismatch, err)
			}
			return nil, fmt.Errorf("stats: rank %d merge: %w", c.Rank(), err)
		}
	}

	out := &Partials{Options: local.Options, Columns: make([]Partial, cols)}
	ranks := make([]Partial, c.Size())
	for j := 0; j < cols; j++ {
		for r := range ranks {
			ranks[r] = gatheredPartial(recv[r*blockStride:(r+1)*blockStride], cols, j)
		}
		g := reduce.Fold(ranks, Identity(), Partial.Merge)
		if req.minMax {
			g.Min = mins[j]
			g.Max = maxs[j]
		}
		if req.sum2 {
			g.Sum2 = sum2[j]
		}
		out.Columns[j] = g
	}

	log.Debug().
		Int("rank", c.Rank()).
		Int("ranks", c.Size()).
		Int64("global_rows", out.Rows()).
		Msg("Merged partial moments across ranks")
	distributedMerges.Inc()
	return out, nil
}

func gatheredPartial(slice []float64, cols, j int) Partial {
	p := Identity()
	n := int64(slice[j])
	if n == 0 {
		return p
	}
	p.Count = n
	p.Sum = slice[cols+j]
	p.Sum2Cent = slice[2*cols+j]
	p.Mean = p.Sum / float64(n)
	return p
}
