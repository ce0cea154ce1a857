package engine

import "log/slog"

type options struct {
	logger *slog.Logger
	clock  Clock
	dryRun bool
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		clock:  SystemClock{},
	}
}

// Option configures a Syncer or Replayer.
type Option func(*options)

// WithLogger sets the logger passes write to.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the clock used for snapshot timestamps and progress.
//
// Default: SystemClock
// Use WithClock(testutil.NewFixedClock(t)) for deterministic snapshots.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithDryRun makes a Replayer resolve and count events without calling
// any mutation primitive. Syncers ignore it.
func WithDryRun(dryRun bool) Option {
	return func(o *options) {
		o.dryRun = dryRun
	}
}
