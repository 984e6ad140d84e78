package forecast

import (
	"github.com/gopher-lab/weathertrader/internal/faults"
)

// defaultSourceWeight is applied to sources not in the weight table.
const defaultSourceWeight = 0.05

// sourceWeights reflects each provider's historical skill at next-day
// highs. Unrecognized sources still contribute, just barely.
var sourceWeights = map[string]float64{
	"nws":            0.30,
	"tomorrow":       0.20,
	"openmeteo":      0.20,
	"visualcrossing": 0.15,
	"openweather":    0.15,
}

// CanonicalSource is the provider whose historical errors calibrate sigma.
const CanonicalSource = "nws"

// EnsembleMean returns the weight-normalized average high and the plain
// max−min spread across sources.
func EnsembleMean(obs []Observation) (mean, spread float64, err error) {
	if len(obs) == 0 {
		return 0, 0, faults.New(faults.ErrInput, "no observations to ensemble")
	}

	var weightedSum, totalWeight float64
	lo, hi := obs[0].HighF, obs[0].HighF
	for _, o := range obs {
		w, ok := sourceWeights[o.Source]
		if !ok {
			w = defaultSourceWeight
		}
		weightedSum += w * o.HighF
		totalWeight += w
		if o.HighF < lo {
			lo = o.HighF
		}
		if o.HighF > hi {
			hi = o.HighF
		}
	}

	if totalWeight <= 0 {
		return 0, 0, faults.New(faults.ErrInput, "all source weights are zero")
	}

	return weightedSum / totalWeight, hi - lo, nil
}
