package stats

import "errors"

var (
	// ErrEmptyMatrix is returned for a nil matrix, zero columns, or zero
	// rows on a single-rank run.
	ErrEmptyMatrix = errors.New("stats: empty matrix")
	// ErrWeightsLength is returned when weights do not match the row count.
	ErrWeightsLength = errors.New("stats: weights length does not match row count")
	// ErrNoOptions is returned when no statistic is requested.
	ErrNoOptions = errors.New("stats: no result options requested")
	// ErrUnknownOption is returned by ParseOptions for an unknown name.
	ErrUnknownOption = errors.New("stats: unknown result option")
	// ErrColumnMismatch is returned when ranks disagree on the column count
	// or the requested options.
	ErrColumnMismatch = errors.New("stats: ranks disagree on column count or options")
)
