package covariance

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Option selects one output of a covariance compute.
type Option uint8

const (
	Covariance Option = 1 << iota
	Correlation
	Means

	AllOptions = Covariance | Correlation | Means
)

var optionNames = []struct {
	opt  Option
	name string
}{
	{Covariance, "covariance"},
	{Correlation, "correlation"},
	{Means, "means"},
}

var (
	ErrNoOptions     = errors.New("covariance: no result options requested")
	ErrUnknownOption = errors.New("covariance: unknown result option")
)

func (o Option) Has(opt Option) bool { return o&opt == opt }

func (o Option) String() string {
	var names []string
	for _, n := range optionNames {
		if o.Has(n.opt) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseOptions parses a comma separated list such as "covariance,means".
func ParseOptions(s string) (Option, error) {
	var out Option
	fold := cases.Fold()
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(fold.String(field))
		if field == "" {
			continue
		}
		if field == "all" {
			out |= AllOptions
			continue
		}
		found := false
		for _, n := range optionNames {
			if n.name == field {
				out |= n.opt
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownOption, field)
		}
	}
	if out == 0 {
		return 0, ErrNoOptions
	}
	return out, nil
}
