// Package queue holds signals awaiting user action in manual trading
// mode. Entries live for thirty minutes; a sweeper coerces overdue
// PENDING rows to EXPIRED.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/faults"
	"github.com/gopher-lab/weathertrader/internal/metrics"
	"github.com/gopher-lab/weathertrader/internal/scan"
	"github.com/gopher-lab/weathertrader/internal/store"
)

// TTL is how long a queued trade waits before expiring.
const TTL = 30 * time.Minute

// Queue manages the pending trade lifecycle.
type Queue struct {
	store  *store.Store
	logger zerolog.Logger
	clock  func() time.Time
}

// New creates a trade queue.
func New(st *store.Store, logger zerolog.Logger) *Queue {
	return &Queue{store: st, logger: logger, clock: time.Now}
}

// Enqueue records a signal as PENDING and returns the queue entry.
func (q *Queue) Enqueue(ctx context.Context, userID string, sig *scan.Signal) (*store.PendingTrade, error) {
	now := q.clock()
	p := &store.PendingTrade{
		ID:                uuid.NewString(),
		UserID:            userID,
		City:              sig.City,
		Ticker:            sig.Ticker,
		Bracket:           sig.Bracket,
		Side:              sig.Side,
		PriceCents:        sig.PriceCents,
		Quantity:          sig.Quantity,
		ModelProbability:  sig.ModelProbability,
		MarketProbability: sig.MarketProbability,
		EV:                sig.EV,
		Confidence:        string(sig.Confidence),
		Status:            store.PendingPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(TTL),
	}
	if err := q.store.InsertPendingTrade(ctx, p); err != nil {
		return nil, err
	}

	q.logger.Info().Str("id", p.ID).Str("ticker", p.Ticker).
		Str("bracket", p.Bracket).Float64("ev", p.EV).
		Msg("trade queued for approval")
	return p, nil
}

// List returns the user's PENDING entries, oldest first.
func (q *Queue) List(ctx context.Context, userID string) ([]*store.PendingTrade, error) {
	return q.store.ListPendingTrades(ctx, userID)
}

// Approve moves a PENDING entry to APPROVED and returns it for execution.
// An entry past its TTL cannot be approved; it stays PENDING and the
// sweeper expires it, which also returns its exposure reservation.
func (q *Queue) Approve(ctx context.Context, id string) (*store.PendingTrade, error) {
	now := q.clock()

	p, err := q.store.GetPendingTrade(ctx, id)
	if err != nil {
		return nil, err
	}

	if now.After(p.ExpiresAt) {
		return nil, faults.New(faults.ErrInput, "pending trade has expired").With("id", id)
	}

	ok, err := q.store.TransitionPendingTrade(ctx, id, store.PendingPending, store.PendingApproved, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.ErrInput, "pending trade already acted on").With("id", id)
	}

	p.Status = store.PendingApproved
	p.ActedAt = &now
	return p, nil
}

// Reject moves a PENDING entry to REJECTED.
func (q *Queue) Reject(ctx context.Context, id string) error {
	ok, err := q.store.TransitionPendingTrade(ctx, id, store.PendingPending, store.PendingRejected, q.clock())
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.ErrInput, "pending trade already acted on").With("id", id)
	}
	return nil
}

// MarkExecuted advances an APPROVED entry to EXECUTED after the order is
// placed.
func (q *Queue) MarkExecuted(ctx context.Context, id string) error {
	ok, err := q.store.TransitionPendingTrade(ctx, id, store.PendingApproved, store.PendingExecuted, q.clock())
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.ErrInput, "pending trade not in approved state").With("id", id)
	}
	return nil
}

// SweepExpired coerces overdue PENDING entries to EXPIRED and returns
// them so the caller can release their exposure reservations.
func (q *Queue) SweepExpired(ctx context.Context) ([]*store.PendingTrade, error) {
	expired, err := q.store.ExpireOverduePending(ctx, q.clock())
	if err != nil {
		return expired, err
	}
	if len(expired) > 0 {
		metrics.PendingExpired.Add(float64(len(expired)))
		q.logger.Info().Int("count", len(expired)).Msg("expired pending trades swept")
	}
	return expired, nil
}
