// Package scan finds positive expected-value trades: two-sided per-bracket
// EV against cached market prices, Kelly fractional sizing under five
// safety caps, and signal ranking.
package scan

import (
	"math"

	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// EV returns the expected value in dollars of buying one contract at the
// quoted YES price, rounded to 4 decimal places. Fees are subtracted
// unconditionally, which overstates fee cost and is the safe direction.
func EV(p float64, priceCents int, side domain.Side) float64 {
	probWin := p
	if side == domain.SideShort {
		probWin = 1 - p
	}

	cost := float64(domain.CostPerContract(priceCents, side)) / 100
	fee := float64(domain.EstimateFees(priceCents, side)) / 100

	ev := probWin*1.00 - cost - fee
	return math.Round(ev*10000) / 10000
}

// BestSide computes EV for both sides of a bracket and returns the side
// with the higher EV.
func BestSide(p float64, priceCents int) (domain.Side, float64) {
	long := EV(p, priceCents, domain.SideLong)
	short := EV(p, priceCents, domain.SideShort)
	if short > long {
		return domain.SideShort, short
	}
	return domain.SideLong, long
}

// MarketProbability is the probability the quoted price implies for the
// chosen side.
func MarketProbability(priceCents int, side domain.Side) float64 {
	return float64(domain.CostPerContract(priceCents, side)) / 100
}
