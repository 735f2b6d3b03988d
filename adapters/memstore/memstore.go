// Package memstore provides in-memory implementations of the engine's
// persistence contracts. It is intended for tests and examples; nothing
// survives a restart.
package memstore

import (
	"k8s.io/utils/clock"
)

type options struct {
	clock clock.Clock
}

type Option func(o *options)

// WithClock overrides the default real-time clock, for tests.
func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	// Set option defaults
	opt := options{
		clock: clock.RealClock{},
	}

	// Set option overrides
	for _, o := range opts {
		o(&opt)
	}

	return opt
}
