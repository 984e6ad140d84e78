package scan

import (
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// KellyParams sizes a position under the fractional Kelly criterion.
type KellyParams struct {
	Fraction               float64 // e.g. 0.25 for quarter-Kelly
	BankrollCents          int64
	MaxContractsPerTrade   int
	MaxBankrollPctPerTrade float64
	MaxTradeSizeCents      int64
}

// KellyQuantity returns the number of contracts to buy. Caps apply in
// priority order: no edge means zero; then the contract cap, the bankroll
// percentage cap, and the absolute trade-size cap; finally any positive
// edge takes at least one contract.
func KellyQuantity(p float64, priceCents int, side domain.Side, params KellyParams) int {
	probWin := p
	if side == domain.SideShort {
		probWin = 1 - p
	}

	cost := float64(domain.CostPerContract(priceCents, side))
	netProfit := float64(domain.ProfitIfWin(priceCents, side) - domain.EstimateFees(priceCents, side))
	if netProfit <= 0 {
		return 0
	}

	raw := (probWin*netProfit - (1-probWin)*cost) / netProfit
	if raw <= 0 {
		return 0
	}

	adjusted := raw * params.Fraction
	quantity := int(adjusted * float64(params.BankrollCents) / cost)

	if params.MaxContractsPerTrade > 0 && quantity > params.MaxContractsPerTrade {
		quantity = params.MaxContractsPerTrade
	}

	if params.MaxBankrollPctPerTrade > 0 {
		if limit := int(params.MaxBankrollPctPerTrade * float64(params.BankrollCents) / cost); quantity > limit {
			quantity = limit
		}
	}

	if params.MaxTradeSizeCents > 0 {
		if limit := int(float64(params.MaxTradeSizeCents) / cost); quantity > limit {
			quantity = limit
		}
	}

	if quantity < 1 {
		quantity = 1
	}
	return quantity
}
