package repository

import "time"

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	metricsUpdateInterval time.Duration
	busyTimeout           time.Duration
}

func newOptions(opts ...Option) options {
	o := options{
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		busyTimeout:           defaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.metricsUpdateInterval = interval
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}
