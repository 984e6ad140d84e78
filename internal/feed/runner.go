package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/metrics"
)

const (
	// maxBackoff caps the reconnect backoff.
	maxBackoff = 60 * time.Second

	// livenessInterval is how often the runner checks the connection.
	livenessInterval = 5 * time.Second
)

// wsConn is the connection lifecycle surface of the WebSocket client.
type wsConn interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Runner owns the feed's connection lifecycle: it waits for credentials,
// dials, flips the liveness key, and redials with capped exponential
// backoff whenever the connection dies. It never returns before the
// context is canceled.
type Runner struct {
	ws             wsConn
	consumer       *Consumer
	cache          *PriceCache
	hasCredentials func() bool
	credRetry      time.Duration
	logger         zerolog.Logger
}

// NewRunner wires the connection lifecycle around a consumer. credRetry is
// how long to sleep when credentials are not yet configured (the user may
// not have onboarded).
func NewRunner(ws wsConn, consumer *Consumer, cache *PriceCache,
	hasCredentials func() bool, credRetry time.Duration, logger zerolog.Logger) *Runner {

	return &Runner{
		ws:             ws,
		consumer:       consumer,
		cache:          cache,
		hasCredentials: hasCredentials,
		credRetry:      credRetry,
		logger:         logger,
	}
}

// Run blocks until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	backoff := time.Second

	for ctx.Err() == nil {
		if !r.hasCredentials() {
			r.logger.Info().Msg("exchange credentials not configured, feed idle")
			if !sleep(ctx, r.credRetry) {
				return
			}
			continue
		}

		if err := r.ws.Connect(ctx); err != nil {
			r.disconnected(ctx)
			r.logger.Warn().Err(err).Dur("backoff", backoff).Msg("feed connect failed")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = time.Second
		r.connected(ctx)

		consumerCtx, cancel := context.WithCancel(ctx)
		go r.consumer.Run(consumerCtx)
		r.watchLiveness(ctx)
		cancel()

		r.disconnected(ctx)
		if ctx.Err() != nil {
			break
		}
		metrics.FeedReconnects.Inc()
		r.logger.Warn().Msg("feed connection lost, redialing")
	}

	if err := r.ws.Close(); err != nil {
		r.logger.Debug().Err(err).Msg("close feed connection")
	}
	r.disconnected(context.Background())
}

// watchLiveness blocks until the connection drops or ctx is canceled.
// Transient drops are handled inside the WebSocket client; this catches
// the case where its reconnect attempts are exhausted.
func (r *Runner) watchLiveness(ctx context.Context) {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.ws.IsConnected() {
				return
			}
		}
	}
}

func (r *Runner) connected(ctx context.Context) {
	metrics.FeedConnected.Set(1)
	if err := r.cache.SetStatus(ctx, true); err != nil {
		r.logger.Warn().Err(err).Msg("set feed status")
	}
}

func (r *Runner) disconnected(ctx context.Context) {
	metrics.FeedConnected.Set(0)
	if err := r.cache.SetStatus(ctx, false); err != nil {
		r.logger.Warn().Err(err).Msg("set feed status")
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// sleep waits for d or until ctx cancels; reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
