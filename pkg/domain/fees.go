package domain

// The exchange charges a fee on winning contracts only: 15% of the profit
// a contract would make if it won, floored, with a 1 cent minimum. Losing
// contracts pay nothing.

// feeRate is the exchange's take of per-contract winning profit.
const feeRate = 0.15

// ProfitIfWin returns the per-contract profit in cents if the position
// wins: a winning contract pays out 100 cents against its cost.
func ProfitIfWin(priceCents int, side Side) int {
	if side == SideShort {
		return priceCents
	}
	return 100 - priceCents
}

// CostPerContract returns the per-contract cost in cents. The exchange
// prices the YES side; NO costs the complement.
func CostPerContract(priceCents int, side Side) int {
	if side == SideShort {
		return 100 - priceCents
	}
	return priceCents
}

// EstimateFees returns the per-contract fee in cents charged if the
// position wins: max(1, floor(profit_if_win * 0.15)).
func EstimateFees(priceCents int, side Side) int {
	fee := int(float64(ProfitIfWin(priceCents, side)) * feeRate)
	if fee < 1 {
		fee = 1
	}
	return fee
}

// TotalCost returns the full position cost in cents for a quantity of
// contracts.
func TotalCost(priceCents, quantity int, side Side) int {
	return CostPerContract(priceCents, side) * quantity
}
