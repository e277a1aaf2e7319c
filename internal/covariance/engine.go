// Package covariance computes the covariance matrix, the correlation matrix
// and the means of the columns of a matrix with the same blocked, two-phase
// scheme as package stats.
package covariance

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
	"github.com/23skdu/longbow-moments/internal/reduce"
	"github.com/23skdu/longbow-moments/internal/stats"
	"github.com/23skdu/longbow-moments/internal/table"
)

var tracer = otel.Tracer("moments-covariance")

// Descriptor selects the outputs and the estimator.
type Descriptor struct {
	Options Option

	// Bias divides by n instead of n-1.
	Bias bool

	// AssumeCentered treats every column mean as zero: cross-products are
	// accumulated raw and never re-centered.
	AssumeCentered bool

	// RowBlockCount forces the number of row blocks; zero lets the
	// blocking policy decide.
	RowBlockCount int64
}

// Engine runs covariance computes on one backend as one rank of a
// communicator.
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

// Compute runs LocalReduce, MergeRanks when distributed, then Finalize.
func (e *Engine) Compute(ctx context.Context, desc Descriptor, data *table.Matrix) (*Result, error) {
	ctx, span := tracer.Start(ctx, "covariance.Compute")
	defer span.End()
	span.SetAttributes(
		attribute.String("options", desc.Options.String()),
		attribute.Bool("bias", desc.Bias),
		attribute.Bool("assume_centered", desc.AssumeCentered),
		attribute.Int("ranks", e.comm.Size()),
	)

	local, err := e.LocalReduce(ctx, desc, data)
	if err == nil && e.comm.Size() > 1 {
		local, err = MergeRanks(ctx, e.comm, local, desc.AssumeCentered)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return Finalize(local, desc), nil
}

// LocalReduce computes this rank's cross-product record.
func (e *Engine) LocalReduce(ctx context.Context, desc Descriptor, data *table.Matrix) (*Partial, error) {
	if desc.Options&AllOptions == 0 {
		return nil, ErrNoOptions
	}
	if data == nil {
		return nil, stats.ErrEmptyMatrix
	}
	rows, cols := data.Dims()
	if cols == 0 || rows == 0 && e.comm.Size() == 1 {
		return nil, fmt.Errorf("%w: %dx%d", stats.ErrEmptyMatrix, rows, cols)
	}
	if rows == 0 {
		return newPartial(cols), nil
	}

	centered := !desc.AssumeCentered
	plan := stats.NewPlan(int64(rows), int64(cols), e.backend, desc.RowBlockCount)
	blocks := make([]Partial, plan.RowBlockCount)

	start := time.Now()
	partials := e.backend.Submit(ctx, "covariance_block_partials", int(plan.RowBlockCount), func(b int) {
		r0, r1 := plan.RowRange(int64(b))
		acc := newAccumulator(cols, centered)
		row := make([]float64, cols)
		for i := int(r0); i < int(r1); i++ {
			acc.add(rowOf(data, i, row))
		}
		blocks[b] = *acc.p
	})

	out := &Partial{}
	merged := e.backend.Submit(ctx, "covariance_block_merge", 1, func(int) {
		*out = reduce.WorkGroup(blocks, plan.MergeLanes, Partial{}, merger(centered))
	}, partials)
	if err := merged.Wait(); err != nil {
		return nil, fmt.Errorf("covariance: local reduction: %w", err)
	}

	log.Debug().
		Int("rows", rows).
		Int("cols", cols).
		Int64("row_blocks", plan.RowBlockCount).
		Dur("elapsed", time.Since(start)).
		Msg("Reduced cross-products")
	return out, nil
}

// rowOf returns row i of m, copying into buf when the view is column-major.
func rowOf(m *table.Matrix, i int, buf []float64) []float64 {
	if m.Layout() == table.RowMajor {
		return m.Row(i)
	}
	for j := range buf {
		buf[j] = m.Col(j)[i]
	}
	return buf
}
