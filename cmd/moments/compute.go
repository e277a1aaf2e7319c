package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-moments/internal/comm"
	"github.com/23skdu/longbow-moments/internal/covariance"
	"github.com/23skdu/longbow-moments/internal/device"
	"github.com/23skdu/longbow-moments/internal/stats"
	"github.com/23skdu/longbow-moments/internal/table"
)

// Computer runs computes over a dataset.
type Computer interface {
	Compute(ctx context.Context, desc stats.Descriptor, ds *table.Dataset) (*stats.Result, error)
	Covariance(ctx context.Context, desc covariance.Descriptor, ds *table.Dataset) (*covariance.Result, error)
}

// rankComputer splits the rows of each dataset over an in-process group of
// ranks and runs the distributed protocol. One rank computes locally.
type rankComputer struct {
	backend device.Backend
	ranks   int
}

func newRankComputer(backend device.Backend, ranks int) *rankComputer {
	if ranks < 1 {
		ranks = 1
	}
	return &rankComputer{backend: backend, ranks: ranks}
}

// eachRank runs fn for every rank with its communicator and row range. The
// first error cancels the other ranks.
func (c *rankComputer) eachRank(ctx context.Context, rows int, fn func(ctx context.Context, member comm.Communicator, from, to int) error) error {
	if c.ranks == 1 {
		return fn(ctx, comm.Local(), 0, rows)
	}
	members, err := comm.NewGroup(c.ranks)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for r, member := range members {
		from, to := r*rows/c.ranks, (r+1)*rows/c.ranks
		g.Go(func() error {
			return fn(gctx, member, from, to)
		})
	}
	return g.Wait()
}

func checkDataset(ds *table.Dataset) (int, error) {
	if ds == nil || ds.Matrix == nil {
		return 0, stats.ErrEmptyMatrix
	}
	rows, cols := ds.Matrix.Dims()
	if rows == 0 || cols == 0 {
		return 0, fmt.Errorf("%w: %dx%d", stats.ErrEmptyMatrix, rows, cols)
	}
	return rows, nil
}

func (c *rankComputer) Compute(ctx context.Context, desc stats.Descriptor, ds *table.Dataset) (*stats.Result, error) {
	rows, err := checkDataset(ds)
	if err != nil {
		return nil, err
	}
	if ds.Weights != nil && len(ds.Weights) != rows {
		return nil, fmt.Errorf("%w: %d weights for %d rows", stats.ErrWeightsLength, len(ds.Weights), rows)
	}

	results := make([]*stats.Result, c.ranks)
	err = c.eachRank(ctx, rows, func(ctx context.Context, member comm.Communicator, from, to int) error {
		in := stats.Input{Data: ds.Matrix.SliceRows(from, to)}
		if ds.Weights != nil {
			in.Weights = ds.Weights[from:to]
		}
		res, err := stats.NewEngine(c.backend, member).Compute(ctx, desc, in)
		results[member.Rank()] = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (c *rankComputer) Covariance(ctx context.Context, desc covariance.Descriptor, ds *table.Dataset) (*covariance.Result, error) {
	rows, err := checkDataset(ds)
	if err != nil {
		return nil, err
	}

	results := make([]*covariance.Result, c.ranks)
	err = c.eachRank(ctx, rows, func(ctx context.Context, member comm.Communicator, from, to int) error {
		res, err := covariance.NewEngine(c.backend, member).Compute(ctx, desc, ds.Matrix.SliceRows(from, to))
		results[member.Rank()] = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}
