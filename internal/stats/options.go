package stats

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// ResultOption is a bitmask over the statistics a caller can request.
type ResultOption uint16

const (
	Min ResultOption = 1 << iota
	Max
	Sum
	SumSquares
	SumSquaresCentered
	Mean
	SecondOrderRawMoment
	Variance
	StandardDeviation
	Variation

	AllOptions = Min | Max | Sum | SumSquares | SumSquaresCentered | Mean |
		SecondOrderRawMoment | Variance | StandardDeviation | Variation
)

// optionOrder is the canonical order used by String, List and result records.
var optionOrder = []ResultOption{
	Min, Max, Sum, SumSquares, SumSquaresCentered, Mean,
	SecondOrderRawMoment, Variance, StandardDeviation, Variation,
}

var optionNames = map[ResultOption]string{
	Min:                  "min",
	Max:                  "max",
	Sum:                  "sum",
	SumSquares:           "sum_squares",
	SumSquaresCentered:   "sum_squares_centered",
	Mean:                 "mean",
	SecondOrderRawMoment: "second_order_raw_moment",
	Variance:             "variance",
	StandardDeviation:    "standard_deviation",
	Variation:            "variation",
}

var optionsByName = func() map[string]ResultOption {
	m := make(map[string]ResultOption, len(optionNames)+1)
	for opt, name := range optionNames {
		m[name] = opt
	}
	m["all"] = AllOptions
	return m
}()

// Name returns the external name of a single option.
func (o ResultOption) Name() string {
	if name, ok := optionNames[o]; ok {
		return name
	}
	return fmt.Sprintf("ResultOption(%#x)", uint16(o))
}

// Has reports whether every bit of opt is set.
func (o ResultOption) Has(opt ResultOption) bool {
	return o&opt == opt
}

// List returns the single options set in o in canonical order.
func (o ResultOption) List() []ResultOption {
	var out []ResultOption
	for _, opt := range optionOrder {
		if o&opt != 0 {
			out = append(out, opt)
		}
	}
	return out
}

func (o ResultOption) String() string {
	list := o.List()
	names := make([]string, len(list))
	for i, opt := range list {
		names[i] = opt.Name()
	}
	return strings.Join(names, ",")
}

// ParseOptions parses a comma separated, case-insensitive list of option
// names. "all" selects every statistic.
func ParseOptions(s string) (ResultOption, error) {
	fold := cases.Fold()
	var out ResultOption
	for _, field := range strings.Split(s, ",") {
		name := strings.TrimSpace(fold.String(field))
		if name == "" {
			continue
		}
		name = strings.ReplaceAll(name, "-", "_")
		opt, ok := optionsByName[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownOption, field)
		}
		out |= opt
	}
	if out == 0 {
		return 0, ErrNoOptions
	}
	return out, nil
}

// requirements is the set of accumulators a request needs. Statistics that
// are not requested never touch their accumulators.
type requirements struct {
	minMax   bool
	sum2     bool
	centered bool
}

func requirementsOf(o ResultOption) requirements {
	return requirements{
		minMax:   o&(Min|Max) != 0,
		sum2:     o&(SumSquares|SecondOrderRawMoment) != 0,
		centered: o&(SumSquaresCentered|Variance|StandardDeviation|Variation) != 0,
	}
}
