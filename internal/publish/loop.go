package publish

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/sitesync/internal/syncerr"
	"github.com/mschirtzinger/sitesync/internal/telemetry"
)

// Publisher runs the downstream render/deploy pipeline.
type Publisher interface {
	Publish(ctx context.Context) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context) error { return f(ctx) }

// Loop drains a Signal on a fixed interval.
type Loop struct {
	signal    *Signal
	publisher Publisher
	interval  time.Duration
	log       zerolog.Logger
	metrics   *telemetry.Metrics
}

// NewLoop creates a loop. interval must be positive.
func NewLoop(signal *Signal, publisher Publisher, interval time.Duration, logger zerolog.Logger, metrics *telemetry.Metrics) *Loop {
	return &Loop{
		signal:    signal,
		publisher: publisher,
		interval:  interval,
		log:       logger.With().Str("component", "publish").Logger(),
		metrics:   metrics,
	}
}

// Run ticks until ctx is cancelled. The first tick happens one interval
// after Run starts.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.Info().Dur("interval", l.interval).Msg("Publish loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("Publish loop stopped")
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick publishes once if the signal is dirty and reports whether the
// publisher was invoked. On failure the signal is re-marked.
func (l *Loop) Tick(ctx context.Context) bool {
	if !l.signal.TakeIfDirty() {
		return false
	}

	start := time.Now()
	err := l.publisher.Publish(ctx)
	elapsed := time.Since(start)
	l.metrics.Publish(elapsed, err)

	if err != nil {
		l.signal.MarkDirty()
		l.log.Error().Err(err).
			Bool("retryable", syncerr.IsRetryable(err)).
			Dur("elapsed", elapsed).
			Msg("Publish failed, will retry next tick")
		return true
	}

	l.log.Info().Dur("elapsed", elapsed).Msg("Published")
	return true
}
