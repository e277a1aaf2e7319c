//go:build cgo

package main

// Built only with cgo: routes gonum's BLAS calls, including the covariance
// rank-one updates, to the system BLAS.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas64.Use(netlib.Implementation{})
	log.Debug().Msg("Using netlib BLAS")
}
