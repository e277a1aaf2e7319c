// Package stats implements the blockwise, numerically stable moment
// reduction behind basic statistics: per-column min, max, sums, means,
// centered sums of squares and the statistics derived from them.
//
// A compute runs in two phases. LocalReduce produces deferred per-column
// records, either in one sweep (small inputs) or as per-row-block partials
// merged by a work-group tree. Finalize derives the requested statistics
// from those records. In a distributed run MergeRanks sits between the two
// and turns every rank's local record into the global one.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/longbow-moments/internal/comm"
	"github.com/23skdu/longbow-moments/internal/device"
	"github.com/23skdu/longbow-moments/internal/table"
)

var tracer = otel.Tracer("moments-stats")

// Descriptor selects what a compute returns.
type Descriptor struct {
	Options ResultOption

	// RowBlockCount forces the number of row blocks; zero lets the
	// blocking policy decide.
	RowBlockCount int64
}

// Input is the data of one compute. Weights is optional; when present it
// must have one entry per row and scales that row's values.
type Input struct {
	Data    *table.Matrix
	Weights []float64
}

// Engine runs computes on one backend as one rank of a communicator.
type Engine struct {
	backend device.Backend
	comm    comm.Communicator
}

// NewEngine returns an engine. A nil communicator means a single-rank run.
func NewEngine(backend device.Backend, c comm.Communicator) *Engine {
	if c == nil {
		c = comm.Local()
	}
	return &Engine{backend: backend, comm: c}
}

// Compute runs LocalReduce, MergeRanks when the communicator has more than
// one rank, Finalize and Assemble.
func (e *Engine) Compute(ctx context.Context, desc Descriptor, in Input) (*Result, error) {
	ctx, span := tracer.Start(ctx, "stats.Compute")
	defer span.End()
	span.SetAttributes(
		attribute.String("options", desc.Options.String()),
		attribute.Int("rank", e.comm.Rank()),
		attribute.Int("ranks", e.comm.Size()),
	)

	local, err := e.LocalReduce(ctx, desc, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	global := local
	if e.comm.Size() > 1 {
		global, err = MergeRanks(ctx, e.comm, local)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	return Assemble(Finalize(global)), nil
}

// LocalReduce computes this rank's deferred per-column records.
func (e *Engine) LocalReduce(ctx context.Context, desc Descriptor, in Input) (*Partials, error) {
	if err := e.validate(desc, in); err != nil {
		return nil, err
	}

	rows, cols := in.Data.Dims()
	out := &Partials{Options: desc.Options, Columns: make([]Partial, cols)}
	if rows == 0 {
		// A rank without rows contributes the identity record.
		for j := range out.Columns {
			out.Columns[j] = Identity()
		}
		return out, nil
	}

	plan := NewPlan(int64(rows), int64(cols), e.backend, desc.RowBlockCount)
	l := &launch{
		data:    in.Data,
		weights: in.Weights,
		plan:    plan,
		req:     requirementsOf(desc.Options),
	}

	strategy := "single_pass"
	if !plan.SinglePass() {
		strategy = "blocked"
	}
	log.Debug().
		Str("strategy", strategy).
		Int("rows", rows).
		Int("cols", cols).
		Int64("row_blocks", plan.RowBlockCount).
		Int64("column_blocks", plan.ColumnBlockCount).
		Int("merge_lanes", plan.MergeLanes).
		Str("layout", in.Data.Layout().String()).
		Msg("Planned moment reduction")

	start := time.Now()
	var done *device.Event
	if plan.SinglePass() {
		done = e.backend.Submit(ctx, "moments_single_pass", int(plan.SinglePassItems(in.Data.Layout())), l.singlePass(out.Columns))
	} else {
		blocks := make([]Partial, int64(cols)*plan.RowBlockCount)
		partials := e.backend.Submit(ctx, "moments_block_partials",
			int(plan.RowBlockCount*plan.ColumnBlockCount), l.blockPartials(blocks))
		done = e.backend.Submit(ctx, "moments_block_merge", cols, l.mergeBlocks(blocks, out.Columns), partials)
	}
	if err := done.Wait(); err != nil {
		return nil, fmt.Errorf("stats: local reduction: %w", err)
	}

	computeDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	rowsProcessed.Add(float64(rows))
	return out, nil
}

func (e *Engine) validate(desc Descriptor, in Input) error {
	if desc.Options&AllOptions == 0 {
		return ErrNoOptions
	}
	if in.Data == nil {
		return ErrEmptyMatrix
	}
	rows, cols := in.Data.Dims()
	if cols == 0 || rows == 0 && e.comm.Size() == 1 {
		return fmt.Errorf("%w: %dx%d", ErrEmptyMatrix, rows, cols)
	}
	if in.Weights != nil && len(in.Weights) != rows {
		return fmt.Errorf("%w: %d weights for %d rows", ErrWeightsLength, len(in.Weights), rows)
	}
	return nil
}
