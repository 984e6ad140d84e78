package forecast

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// minCalibrationSamples is the sample count below which the seasonal
// fallback table is used instead of measured residuals.
const minCalibrationSamples = 30

// defaultSigma covers unknown cities.
const defaultSigma = 2.5

// seasonalSigma is the fallback forecast-error table in °F, keyed by
// (city, season). Coastal cities run tighter than continental ones.
var seasonalSigma = map[domain.City]map[Season]float64{
	domain.CityNYC: {SeasonWinter: 3.2, SeasonSpring: 2.8, SeasonSummer: 2.2, SeasonFall: 2.6},
	domain.CityLAX: {SeasonWinter: 2.0, SeasonSpring: 2.2, SeasonSummer: 1.8, SeasonFall: 2.0},
	domain.CityCHI: {SeasonWinter: 3.5, SeasonSpring: 3.0, SeasonSummer: 2.4, SeasonFall: 2.8},
	domain.CityMIA: {SeasonWinter: 1.8, SeasonSpring: 2.0, SeasonSummer: 1.6, SeasonFall: 1.8},
}

// errorSampler supplies historical actual−forecast residuals.
type errorSampler interface {
	ErrorSamples(ctx context.Context, source string, city domain.City, months []time.Month) ([]float64, error)
}

// Sigma returns the forecast-error standard deviation for (city, month).
// With at least 30 historical residuals for the canonical source it is the
// sample standard deviation; otherwise the seasonal table applies, and
// unknown cities fall back to the global default. The sampler may be nil
// (backtests, cold start).
func Sigma(ctx context.Context, samples errorSampler, city domain.City, month time.Month) float64 {
	season := SeasonOf(month)

	if samples != nil {
		residuals, err := samples.ErrorSamples(ctx, CanonicalSource, city, SeasonMonths(season))
		if err == nil && len(residuals) >= minCalibrationSamples {
			if sd := stat.StdDev(residuals, nil); sd > 0 {
				return sd
			}
		}
	}

	if bySeason, ok := seasonalSigma[city]; ok {
		return bySeason[season]
	}
	return defaultSigma
}
