package covariance

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-moments/internal/comm"
	"github.com/23skdu/longbow-moments/internal/reduce"
	"github.com/23skdu/longbow-moments/internal/stats"
)

// packedLen is the length of the packed upper triangle of a dim x dim matrix.
func packedLen(dim int) int { return dim * (dim + 1) / 2 }

// MergeRanks all-gathers every rank's record as {n, sums, packed upper C}
// and folds them in rank order. Every rank of c must call it with the same
// column count.
func MergeRanks(ctx context.Context, c comm.Communicator, local *Partial, assumeCentered bool) (*Partial, error) {
	if c.Size() == 1 {
		return local, nil
	}

	dim := len(local.Sums)
	stride := 1 + dim + packedLen(dim)
	send := make([]float64, stride)
	send[0] = float64(local.N)
	copy(send[1:], local.Sums)
	pack(blas64.SymmetricPacked{N: dim, Uplo: blas.Upper, Data: send[1+dim:]}, local.C.RawSymmetric())

	recv := make([]float64, stride*c.Size())
	if err := c.AllGather(ctx, send, recv).Wait(); err != nil {
		if errors.Is(err, comm.ErrMismatch) {
			return nil, fmt.Errorf("%w: %w", stats.ErrColumnMismatch, err)
		}
		return nil, fmt.Errorf("covariance: rank %d merge: %w", c.Rank(), err)
	}

	ranks := make([]Partial, c.Size())
	for r := range ranks {
		ranks[r] = unpack(recv[r*stride:(r+1)*stride], dim)
	}
	out := reduce.Fold(ranks, Partial{}, merger(!assumeCentered))
	if out.N == 0 {
		out = *newPartial(dim)
	}
	return &out, nil
}

func unpack(slice []float64, dim int) Partial {
	n := int64(slice[0])
	if n == 0 {
		return Partial{}
	}
	p := newPartial(dim)
	p.N = n
	copy(p.Sums, slice[1:1+dim])
	floats.ScaleTo(p.Means, 1/float64(n), p.Sums)
	unpackInto(p.C.RawSymmetric(), blas64.SymmetricPacked{N: dim, Uplo: blas.Upper, Data: slice[1+dim:]})
	return *p
}

// pack copies the upper triangle of s row by row into dst.
func pack(dst blas64.SymmetricPacked, s blas64.Symmetric) {
	k := 0
	for i := 0; i < s.N; i++ {
		row := s.Data[i*s.Stride : i*s.Stride+s.N]
		k += copy(dst.Data[k:], row[i:])
	}
}

// unpackInto is the inverse of pack. Only the upper triangle of dst is
// written, which is all a SymDense reads.
func unpackInto(dst blas64.Symmetric, src blas64.SymmetricPacked) {
	k := 0
	for i := 0; i < src.N; i++ {
		row := dst.Data[i*dst.Stride : i*dst.Stride+dst.N]
		k += copy(row[i:], src.Data[k:k+src.N-i])
	}
}
