package device

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)

// DefaultMaxWorkGroupSize bounds the lanes of one CPU work-group.
const DefaultMaxWorkGroupSize = 256

// CPUBackend runs kernels on goroutines, splitting the item range into
// contiguous chunks, one per worker.
type CPUBackend struct {
	workers      int
	maxWorkGroup int
	subGroup     int
	inflight     sync.WaitGroup
}

// Option configures a CPUBackend.
type Option func(*CPUBackend)

// WithWorkers sets the number of goroutines a launch is split across.
func WithWorkers(n int) Option {
	return func(b *CPUBackend) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithMaxWorkGroupSize overrides the work-group capability.
func WithMaxWorkGroupSize(n int) Option {
	return func(b *CPUBackend) {
		if n > 0 {
			b.maxWorkGroup = n
		}
	}
}

func NewCPUBackend(opts ...Option) *CPUBackend {
	b := &CPUBackend{
		workers:      runtime.NumCPU(),
		maxWorkGroup: DefaultMaxWorkGroupSize,
		subGroup:     detectSubGroupSize(),
	}
	for _, opt := range opts {
		opt(b)
	}
	log.Debug().
		Int("workers", b.workers).
		Int("max_work_group", b.maxWorkGroup).
		Int("sub_group", b.subGroup).
		Msg("CPU backend initialized")
	return b
}

// detectSubGroupSize maps the widest available vector unit to float64 lanes.
func detectSubGroupSize() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 8
	case cpu.X86.HasAVX2, cpu.X86.HasAVX:
		return 4
	case cpu.X86.HasSSE2, cpu.ARM64.HasASIMD:
		return 2
	default:
		return 1
	}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) MaxWorkGroupSize() int { return b.maxWorkGroup }

func (b *CPUBackend) SubGroupSize() int { return b.subGroup }

func (b *CPUBackend) Workers() int { return b.workers }

func (b *CPUBackend) Submit(ctx context.Context, name string, items int, kernel Kernel, deps ...*Event) *Event {
	ev := newEvent()
	b.inflight.Add(1)

	go func() {
		defer b.inflight.Done()

		for _, dep := range deps {
			if err := dep.Wait(); err != nil {
				ev.finish(fmt.Errorf("%s: dependency failed: %w", name, err))
				return
			}
		}
		if err := ctx.Err(); err != nil {
			ev.finish(err)
			return
		}

		start := time.Now()
		err := b.run(items, kernel)
		kernelLaunches.WithLabelValues(name).Inc()
		kernelDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			kernelFailures.WithLabelValues(name).Inc()
			err = fmt.Errorf("%s: %w", name, err)
		}
		ev.finish(err)
	}()

	return ev
}

func (b *CPUBackend) run(items int, kernel Kernel) error {
	if items <= 0 {
		return nil
	}

	workers := b.workers
	if items < workers {
		workers = items
	}
	itemsPerWorker := (items + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		start := w * itemsPerWorker
		end := start + itemsPerWorker
		if start >= items {
			break
		}
		if end > items {
			end = items
		}

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrKernelPanic, r)
				}
			}()
			for i := start; i < end; i++ {
				kernel(i)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *CPUBackend) Synchronize() {
	b.inflight.Wait()
}
