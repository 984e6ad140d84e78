package forecast

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/faults"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// ModelFunc is a trained regression model consulted for a blended mean.
// The system treats it as a black box.
type ModelFunc func(ctx context.Context, city domain.City, date time.Time, ensembleMean float64) (float64, error)

// Engine produces Predictions from raw observations.
type Engine struct {
	samples     errorSampler
	model       ModelFunc
	blendWeight float64
	logger      zerolog.Logger
	clock       func() time.Time
}

// NewEngine creates the prediction engine. samples and model may be nil;
// a zero blendWeight disables the learned blend entirely.
func NewEngine(samples errorSampler, model ModelFunc, blendWeight float64, logger zerolog.Logger) *Engine {
	return &Engine{
		samples:     samples,
		model:       model,
		blendWeight: blendWeight,
		logger:      logger,
		clock:       time.Now,
	}
}

// Predict merges the observations for one (city, date) into a bracket
// distribution over the given definitions.
func (e *Engine) Predict(ctx context.Context, city domain.City, date time.Time,
	obs []Observation, defs []domain.BracketDef) (*Prediction, error) {

	mean, spread, err := EnsembleMean(obs)
	if err != nil {
		return nil, err
	}

	sigma := Sigma(ctx, e.samples, city, date.Month())
	if sigma <= 0 {
		return nil, faults.New(faults.ErrInput, "sigma must be positive").With("sigma", sigma)
	}

	mu := e.blend(ctx, city, date, mean)

	brackets, err := BracketProbabilities(mu, sigma, defs)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	return &Prediction{
		City:        city,
		Date:        date,
		Mean:        mu,
		Spread:      spread,
		Sigma:       sigma,
		SourceCount: len(obs),
		Brackets:    brackets,
		Confidence:  ScoreConfidence(spread, sigma, len(obs), now.Sub(freshest(obs))),
		GeneratedAt: now,
	}, nil
}

// blend mixes the model's mean into the ensemble mean when configured.
// Model failure is non-fatal; the pure ensemble mean stands.
func (e *Engine) blend(ctx context.Context, city domain.City, date time.Time, mean float64) float64 {
	if e.model == nil || e.blendWeight <= 0 {
		return mean
	}

	modelMean, err := e.model(ctx, city, date, mean)
	if err != nil {
		e.logger.Warn().Err(err).Str("city", string(city)).Msg("model blend failed, using ensemble mean")
		return mean
	}
	return (1-e.blendWeight)*mean + e.blendWeight*modelMean
}

func freshest(obs []Observation) time.Time {
	var newest time.Time
	for _, o := range obs {
		if o.FetchedAt.After(newest) {
			newest = o.FetchedAt
		}
	}
	return newest
}
