package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopher-lab/weathertrader/internal/scan"
	"github.com/gopher-lab/weathertrader/internal/store"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, zerolog.Nop())
}

func testSignal() *scan.Signal {
	return &scan.Signal{
		City:              domain.CityLAX,
		Ticker:            "KXHIGHLAX-26AUG24-B75",
		Bracket:           "75-76",
		Side:              domain.SideLong,
		PriceCents:        35,
		Quantity:          2,
		ModelProbability:  0.55,
		MarketProbability: 0.35,
		EV:                0.12,
		Confidence:        "high",
	}
}

func TestQueue_EnqueueAndList(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	p, err := q.Enqueue(ctx, "u1", testSignal())
	require.NoError(t, err)
	assert.Equal(t, store.PendingPending, p.Status)
	assert.Nil(t, p.ActedAt)
	assert.Equal(t, TTL, p.ExpiresAt.Sub(p.CreatedAt))

	list, err := q.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestQueue_ApproveLifecycle(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	p, err := q.Enqueue(ctx, "u1", testSignal())
	require.NoError(t, err)

	approved, err := q.Approve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PendingApproved, approved.Status)
	assert.NotNil(t, approved.ActedAt)

	// Approving twice fails.
	_, err = q.Approve(ctx, p.ID)
	assert.Error(t, err)

	require.NoError(t, q.MarkExecuted(ctx, p.ID))

	list, err := q.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list, "executed entries leave the pending list")
}

func TestQueue_Reject(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	p, err := q.Enqueue(ctx, "u1", testSignal())
	require.NoError(t, err)

	require.NoError(t, q.Reject(ctx, p.ID))
	assert.Error(t, q.Reject(ctx, p.ID), "double reject fails")

	_, err = q.Approve(ctx, p.ID)
	assert.Error(t, err, "rejected entries cannot be approved")
}

func TestQueue_ApproveExpiredEntry(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	p, err := q.Enqueue(ctx, "u1", testSignal())
	require.NoError(t, err)

	// Move the clock past the TTL.
	q.clock = func() time.Time { return time.Now().Add(TTL + time.Minute) }

	_, err = q.Approve(ctx, p.ID)
	assert.Error(t, err)

	// The entry stays PENDING; only the sweeper expires it.
	got, err := q.store.GetPendingTrade(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PendingPending, got.Status)
	assert.Nil(t, got.ActedAt)

	expired, err := q.SweepExpired(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, p.ID, expired[0].ID)
}

func TestQueue_SweepExpired(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	overdue, err := q.Enqueue(ctx, "u1", testSignal())
	require.NoError(t, err)

	q.clock = func() time.Time { return time.Now().Add(10 * time.Minute) }
	fresh, err := q.Enqueue(ctx, "u1", testSignal())
	require.NoError(t, err)

	q.clock = func() time.Time { return time.Now().Add(TTL + 5*time.Minute) }
	expired, err := q.SweepExpired(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.ID, expired[0].ID)
	assert.Equal(t, store.PendingExpired, expired[0].Status)
	assert.NotNil(t, expired[0].ActedAt)

	got, err := q.store.GetPendingTrade(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PendingExpired, got.Status)

	got, err = q.store.GetPendingTrade(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PendingPending, got.Status)
}
