package comm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type kind int

const (
	kindAllReduce kind = iota
	kindAllGather
)

func (k kind) String() string {
	if k == kindAllGather {
		return "allgather"
	}
	return "allreduce"
}

// group is an in-process set of ranks that rendezvous through shared memory.
// Each collective call is matched to its peers by a per-rank sequence number.
type group struct {
	size int

	mu     sync.Mutex
	rounds map[uint64]*round
}

type round struct {
	kind    kind
	op      ReduceOp
	width   int
	parts   [][]float64
	arrived int
	err     error

	done   chan struct{}
	result []float64
}

type member struct {
	g    *group
	rank int
	seq  uint64
}

// NewGroup creates size ranks sharing one in-process communicator. Each
// returned Communicator is meant to be driven by its own goroutine.
func NewGroup(size int) ([]Communicator, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	g := &group{
		size:   size,
		rounds: make(map[uint64]*round),
	}
	members := make([]Communicator, size)
	for r := range members {
		members[r] = &member{g: g, rank: r}
	}
	return members, nil
}

func (m *member) Rank() int { return m.rank }

func (m *member) Size() int { return m.g.size }

func (m *member) AllReduce(ctx context.Context, buf []float64, op ReduceOp) *Request {
	r := m.join(kindAllReduce, op, buf, nil)
	return m.await(ctx, r, kindAllReduce, func(result []float64) error {
		copy(buf, result)
		return nil
	})
}

func (m *member) AllGather(ctx context.Context, send, recv []float64) *Request {
	var sizeErr error
	if len(recv) != m.g.size*len(send) {
		// Still join the round so peers are released with the error.
		sizeErr = fmt.Errorf("%w: rank %d recv %d, want %d", ErrBufferSize, m.rank, len(recv), m.g.size*len(send))
	}
	r := m.join(kindAllGather, Sum, send, sizeErr)
	return m.await(ctx, r, kindAllGather, func(result []float64) error {
		copy(recv, result)
		return nil
	})
}

// join registers this rank's contribution to its next collective round.
// The last rank to arrive computes the result and releases the others.
// A non-nil failure poisons the round for every rank.
func (m *member) join(k kind, op ReduceOp, contribution []float64, failure error) *round {
	seq := m.seq
	m.seq++

	g := m.g
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rounds[seq]
	if !ok {
		r = &round{
			kind:  k,
			op:    op,
			width: len(contribution),
			parts: make([][]float64, g.size),
			done:  make(chan struct{}),
		}
		g.rounds[seq] = r
	}
	if r.err == nil && failure != nil {
		r.err = failure
	}
	if r.err == nil && (r.kind != k || r.op != op || r.width != len(contribution)) {
		r.err = fmt.Errorf("%w: round %d rank %d issued %s/%s width %d, expected %s/%s width %d",
			ErrMismatch, seq, m.rank, k, op, len(contribution), r.kind, r.op, r.width)
	}

	part := make([]float64, len(contribution))
	copy(part, contribution)
	r.parts[m.rank] = part
	r.arrived++

	if r.arrived == g.size {
		if r.err == nil {
			r.result = r.combine()
		}
		delete(g.rounds, seq)
		close(r.done)
		log.Debug().Uint64("round", seq).Str("kind", r.kind.String()).Int("ranks", g.size).Msg("Collective round complete")
	}
	return r
}

func (r *round) combine() []float64 {
	switch r.kind {
	case kindAllGather:
		out := make([]float64, 0, r.width*len(r.parts))
		for _, p := range r.parts {
			out = append(out, p...)
		}
		return out
	default:
		out := make([]float64, r.width)
		copy(out, r.parts[0])
		for _, p := range r.parts[1:] {
			r.op.apply(out, p)
		}
		return out
	}
}

func (m *member) await(ctx context.Context, r *round, k kind, deliver func([]float64) error) *Request {
	req := newRequest()
	start := time.Now()
	collectiveCalls.WithLabelValues(k.String()).Inc()

	go func() {
		select {
		case <-r.done:
		case <-ctx.Done():
			req.finish(ctx.Err())
			return
		}
		collectiveWait.WithLabelValues(k.String()).Observe(time.Since(start).Seconds())

		// The round is immutable once done is closed.
		if r.err != nil {
			req.finish(r.err)
			return
		}
		var err error
		if deliver != nil {
			err = deliver(r.result)
		}
		req.finish(err)
	}()
	return req
}
