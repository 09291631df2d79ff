package repository

import (
	"time"

	"github.com/okian/custseg/pkg/logger"
)

type options struct {
	keep     int
	logger   logger.Logger
	now      func() time.Time
	inMemory bool
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithKeepVersions prunes old versions after every save. Zero keeps all.
func WithKeepVersions(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.keep = n
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the clock used for SavedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithInMemory runs the badger backend without touching disk.
func WithInMemory() Option {
	return func(o *options) { o.inMemory = true }
}

func applyOptions(opts []Option) options {
	o := options{logger: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
