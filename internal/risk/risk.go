// Package risk admits or blocks trade signals against per-day limits and
// runs the loss-cooldown state machine. All mutations of the daily risk
// row happen inside a single write-locked transaction, so concurrent
// cycles cannot double-spend remaining exposure.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/metrics"
	"github.com/gopher-lab/weathertrader/internal/scan"
	"github.com/gopher-lab/weathertrader/internal/store"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// Limits is the per-user risk configuration snapshot.
type Limits struct {
	MaxTradeSizeCents      int64
	MaxDailyExposureCents  int64
	DailyLossLimitCents    int64
	MinEVThreshold         float64
	CooldownPerLossMinutes int
	ConsecutiveLossLimit   int
}

// Decision is the outcome of the risk predicate. A block is not an
// error; it carries a human-readable reason and a bounded metric label.
type Decision struct {
	Allowed      bool
	Reason       string
	MetricReason string
}

func blocked(metricReason, format string, args ...any) Decision {
	metrics.RiskBlocks.WithLabelValues(metricReason).Inc()
	return Decision{Reason: fmt.Sprintf(format, args...), MetricReason: metricReason}
}

// Manager evaluates signals against the daily risk state.
type Manager struct {
	store  *store.Store
	limits Limits
	logger zerolog.Logger
	clock  func() time.Time
}

// NewManager creates a risk manager.
func NewManager(st *store.Store, limits Limits, logger zerolog.Logger) *Manager {
	return &Manager{store: st, limits: limits, logger: logger, clock: time.Now}
}

// tradingDayKey formats the ET calendar date used as the risk row key.
func tradingDayKey(t time.Time) string {
	return domain.TradingDay(t).Format("2006-01-02")
}

// CheckAndReserve runs the ordered predicate over a signal and, when every
// check passes, reserves the signal's cost against today's exposure inside
// the same transaction. The predicate order is: cooldown, trade size,
// exposure, daily loss, minimum EV; the first failure short-circuits.
func (m *Manager) CheckAndReserve(ctx context.Context, userID string, sig *scan.Signal) (Decision, error) {
	now := m.clock()
	cost := int64(domain.TotalCost(sig.PriceCents, sig.Quantity, sig.Side))

	var decision Decision
	err := m.store.UpdateDailyRisk(ctx, userID, tradingDayKey(now), func(st *store.DailyRiskState) error {
		if st.CooldownUntil != nil && now.Before(*st.CooldownUntil) {
			decision = blocked(metrics.BlockReasonCooldown,
				"cooldown active until %s", st.CooldownUntil.In(domain.Eastern()).Format("15:04:05 MST"))
			return nil
		}

		if cost > m.limits.MaxTradeSizeCents {
			decision = blocked(metrics.BlockReasonTradeSize,
				"trade cost %dc exceeds max trade size %dc", cost, m.limits.MaxTradeSizeCents)
			return nil
		}

		if st.TotalExposureCents+cost > m.limits.MaxDailyExposureCents {
			decision = blocked(metrics.BlockReasonExposure,
				"exposure %dc + %dc exceeds daily cap %dc",
				st.TotalExposureCents, cost, m.limits.MaxDailyExposureCents)
			return nil
		}

		if st.RealizedPnlCents <= -m.limits.DailyLossLimitCents {
			decision = blocked(metrics.BlockReasonDailyLoss,
				"daily loss %dc at limit %dc", -st.RealizedPnlCents, m.limits.DailyLossLimitCents)
			return nil
		}

		if sig.EV < m.limits.MinEVThreshold {
			decision = blocked(metrics.BlockReasonMinEV,
				"EV %.4f below threshold %.4f", sig.EV, m.limits.MinEVThreshold)
			return nil
		}

		st.TotalExposureCents += cost
		st.TradesCount++
		decision = Decision{Allowed: true}
		metrics.OpenExposureCents.Set(float64(st.TotalExposureCents))
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// ReleaseExposure returns a reservation when the order it covered never
// made it to the exchange.
func (m *Manager) ReleaseExposure(ctx context.Context, userID string, costCents int64) error {
	now := m.clock()
	return m.store.UpdateDailyRisk(ctx, userID, tradingDayKey(now), func(st *store.DailyRiskState) error {
		st.TotalExposureCents -= costCents
		if st.TotalExposureCents < 0 {
			st.TotalExposureCents = 0
		}
		metrics.OpenExposureCents.Set(float64(st.TotalExposureCents))
		return nil
	})
}

// RecordSettlement applies a settled trade's P&L to the daily state and
// advances the cooldown machine. On a loss the per-loss timer extends
// monotonically, and reaching the consecutive-loss limit locks trading for
// the rest of the ET day. A win resets only the loss counter; any running
// timer expires naturally.
func (m *Manager) RecordSettlement(ctx context.Context, userID string, pnlCents int64, won bool) error {
	now := m.clock()
	return m.store.UpdateDailyRisk(ctx, userID, tradingDayKey(now), func(st *store.DailyRiskState) error {
		st.RealizedPnlCents += pnlCents

		if won {
			st.ConsecutiveLosses = 0
			return nil
		}

		if m.limits.CooldownPerLossMinutes > 0 {
			until := now.Add(time.Duration(m.limits.CooldownPerLossMinutes) * time.Minute)
			if st.CooldownUntil == nil || until.After(*st.CooldownUntil) {
				st.CooldownUntil = &until
			}
		}

		st.ConsecutiveLosses++
		if m.limits.ConsecutiveLossLimit > 0 && st.ConsecutiveLosses >= m.limits.ConsecutiveLossLimit {
			endOfDay := domain.EndOfTradingDay(now)
			if st.CooldownUntil == nil || endOfDay.After(*st.CooldownUntil) {
				st.CooldownUntil = &endOfDay
			}
			m.logger.Warn().Str("user", userID).Int("losses", st.ConsecutiveLosses).
				Msg("consecutive loss limit reached, trading halted for the day")
		}
		return nil
	})
}

// State returns today's risk row, creating it zeroed on first use.
func (m *Manager) State(ctx context.Context, userID string) (*store.DailyRiskState, error) {
	return m.store.GetOrCreateDailyRisk(ctx, userID, tradingDayKey(m.clock()))
}

// CooldownKind classifies an active cooldown for reporting.
type CooldownKind string

// Cooldown kinds.
const (
	CooldownNone      CooldownKind = "none"
	CooldownPerLoss   CooldownKind = "per_loss"
	CooldownRestOfDay CooldownKind = "rest_of_day"
)

// CooldownStatus reports whether a cooldown is active at now, its kind,
// and the remaining duration. The deadline itself counts as expired.
func CooldownStatus(st *store.DailyRiskState, now time.Time) (CooldownKind, time.Duration) {
	if st.CooldownUntil == nil || !now.Before(*st.CooldownUntil) {
		return CooldownNone, 0
	}

	remaining := st.CooldownUntil.Sub(now)
	endOfDay := domain.EndOfTradingDay(now)
	if diff := endOfDay.Sub(*st.CooldownUntil); diff >= -time.Minute && diff <= time.Minute {
		return CooldownRestOfDay, remaining
	}
	return CooldownPerLoss, remaining
}
