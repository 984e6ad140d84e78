package forecast

import (
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/gopher-lab/weathertrader/internal/faults"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// BracketProbabilities spreads N(mu, sigma) over the bracket definitions:
// Φ of the upper bound for the bottom catch-all, the survival of the lower
// bound for the top catch-all, and the CDF difference for interior ranges.
// Probabilities are clamped into [0,1] and renormalized to sum exactly 1.
func BracketProbabilities(mu, sigma float64, defs []domain.BracketDef) ([]Bracket, error) {
	if len(defs) == 0 {
		return nil, faults.New(faults.ErrInput, "no bracket definitions")
	}
	if sigma <= 0 {
		return nil, faults.New(faults.ErrInput, "sigma must be positive").With("sigma", sigma)
	}

	dist := distuv.Normal{Mu: mu, Sigma: sigma}

	out := make([]Bracket, len(defs))
	var sum float64
	for i, def := range defs {
		var p float64
		switch {
		case def.Lower == nil && def.Upper == nil:
			p = 1
		case def.Lower == nil:
			p = dist.CDF(*def.Upper)
		case def.Upper == nil:
			p = 1 - dist.CDF(*def.Lower)
		default:
			p = dist.CDF(*def.Upper) - dist.CDF(*def.Lower)
		}

		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		out[i] = Bracket{Def: def, Probability: p}
		sum += p
	}

	if sum <= 0 {
		return nil, faults.New(faults.ErrInput, "bracket probabilities sum to zero")
	}
	for i := range out {
		out[i].Probability /= sum
	}
	return out, nil
}
