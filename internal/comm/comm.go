// Package comm provides the collective operations the distributed
// finalizers run across cooperating ranks.
//
// Collectives follow the usual SPMD contract: every rank of a communicator
// issues the same sequence of collective calls with matching shapes, and a
// single Communicator value is driven by one goroutine at a time. Every call
// returns a Request; the issuing rank is blocked only when it calls Wait, and
// Wait does not return before all ranks contributed.
package comm

import (
	"context"
	"errors"
	"fmt"
)

// ReduceOp selects the element-wise reduction of AllReduce.
type ReduceOp int

const (
	Sum ReduceOp = iota
	Min
	Max
)

func (op ReduceOp) String() string {
	switch op {
	case Sum:
		return "sum"
	case Min:
		return "min"
	case Max:
		return "max"
	default:
		return fmt.Sprintf("ReduceOp(%d)", int(op))
	}
}

func (op ReduceOp) apply(dst, src []float64) {
	switch op {
	case Sum:
		for i, v := range src {
			dst[i] += v
		}
	case Min:
		for i, v := range src {
			if v < dst[i] {
				dst[i] = v
			}
		}
	case Max:
		for i, v := range src {
			if v > dst[i] {
				dst[i] = v
			}
		}
	}
}

var (
	// ErrMismatch is returned when ranks disagree on the kind, operator or
	// width of the same collective call.
	ErrMismatch = errors.New("comm: collective mismatch across ranks")
	// ErrBufferSize is returned when a receive buffer cannot hold the result.
	ErrBufferSize = errors.New("comm: buffer size mismatch")
	// ErrBadSize is returned for a group with fewer than one rank.
	ErrBadSize = errors.New("comm: group size must be positive")
)

// Communicator is one rank's handle on a group of cooperating ranks.
type Communicator interface {
	Rank() int
	Size() int

	// AllReduce reduces buf element-wise across ranks with op; on success
	// every rank's buf holds the reduced values.
	AllReduce(ctx context.Context, buf []float64, op ReduceOp) *Request

	// AllGather concatenates every rank's send buffer in rank order into
	// recv, which must have length Size()*len(send).
	AllGather(ctx context.Context, send, recv []float64) *Request
}

// Request is the pending completion of a collective call.
type Request struct {
	done chan struct{}
	err  error
}

func newRequest() *Request {
	return &Request{done: make(chan struct{})}
}

func completed(err error) *Request {
	r := newRequest()
	r.finish(err)
	return r
}

func (r *Request) finish(err error) {
	r.err = err
	close(r.done)
}

// Done is closed once the collective finished on this rank.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the collective completed network-wide (or failed).
func (r *Request) Wait() error {
	<-r.done
	return r.err
}
