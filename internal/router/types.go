package router

import "errors"

// Errors
var (
	ErrMixedKinds = errors.New("filter mixes isolated and general kinds")
)

// PoolKind names one of the two connection pools.
type PoolKind string

const (
	PoolGeneral  PoolKind = "general"
	PoolIsolated PoolKind = "isolated"
)

func (k PoolKind) String() string {
	return string(k)
}

// Decision is where one event or filter goes.
type Decision struct {
	Pool      PoolKind
	Endpoints []string
}
