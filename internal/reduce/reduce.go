// Package reduce implements the cooperative reductions shared by the
// statistics engines. The combine function is supplied by the caller and is
// expected to be associative; the reduction order is fixed so that a given
// input and lane count always produce bit-identical results.
package reduce

// Combine merges two partial results into one.
type Combine[T any] func(a, b T) T

// WorkGroup reduces items the way one work-group of the given lane count
// does on a device:
//
//  1. lane l folds items l, l+lanes, l+2*lanes, ... left to right;
//  2. the lane partials are combined by a halving tree: at each step with
//     active width s, lane i (i < s) absorbs lane i+s.
//
// Lane 0 ends up holding the result. lanes is clamped to [1, len(items)].
// An empty input returns identity.
func WorkGroup[T any](items []T, lanes int, identity T, combine Combine[T]) T {
	if len(items) == 0 {
		return identity
	}
	lanes = Lanes(len(items), lanes)

	acc := make([]T, lanes)
	for l := range acc {
		acc[l] = identity
		for i := l; i < len(items); i += lanes {
			acc[l] = combine(acc[l], items[i])
		}
	}

	// Each halving step below is separated by a barrier on a device; running
	// the lanes of one step in index order is equivalent.
	for stride := ceilPow2(lanes) / 2; stride > 0; stride /= 2 {
		for i := 0; i < stride; i++ {
			if i+stride < lanes {
				acc[i] = combine(acc[i], acc[i+stride])
			}
		}
	}
	return acc[0]
}

// Fold combines items strictly left to right.
func Fold[T any](items []T, identity T, combine Combine[T]) T {
	acc := identity
	for _, it := range items {
		acc = combine(acc, it)
	}
	return acc
}

// Lanes clamps a requested lane count to what n items can use.
func Lanes(n, lanes int) int {
	if lanes > n {
		lanes = n
	}
	if lanes < 1 {
		lanes = 1
	}
	return lanes
}

func ceilPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
