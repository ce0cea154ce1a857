package engine

import (
	"log/slog"
	"time"
)

// progress logs a heartbeat at most once per interval.
type progress struct {
	logger   *slog.Logger
	clock    Clock
	interval time.Duration
	msg      string
	started  time.Time
	last     time.Time
}

func newProgress(logger *slog.Logger, clock Clock, interval time.Duration, msg string) *progress {
	now := clock.Now()
	return &progress{
		logger:   logger,
		clock:    clock,
		interval: interval,
		msg:      msg,
		started:  now,
		last:     now,
	}
}

// tick logs r when the interval has elapsed since the last line.
func (p *progress) tick(r *Report) {
	now := p.clock.Now()
	if now.Sub(p.last) < p.interval {
		return
	}
	p.last = now
	p.logger.Info(p.msg,
		"processed", r.Processed,
		"recorded", r.TotalRecorded(),
		"replayed", r.TotalReplayed(),
		"skipped", r.Skipped,
		"elapsed", now.Sub(p.started).Round(time.Second),
	)
}

// elapsed returns the time since the pass started.
func (p *progress) elapsed() time.Duration {
	return p.clock.Now().Sub(p.started)
}
