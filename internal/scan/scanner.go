package scan

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/forecast"
	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// maxPredictionAge is how old a prediction may be before the scanner
// refuses to trade on it.
const maxPredictionAge = 2 * time.Hour

// Signal is a proposed buy of N contracts of (city, bracket, side).
// Transient: consumed by the risk manager then discarded.
type Signal struct {
	City              domain.City
	Date              time.Time
	Ticker            string
	Bracket           string
	Side              domain.Side
	PriceCents        int
	Quantity          int
	ModelProbability  float64
	MarketProbability float64
	EV                float64
	Confidence        forecast.Confidence
}

// Config is the scanner's per-user settings snapshot.
type Config struct {
	MinEVThreshold         float64
	UseKellySizing         bool
	KellyFraction          float64
	MaxContractsPerTrade   int
	MaxBankrollPctPerTrade float64
	MaxTradeSizeCents      int64
}

// Scanner turns predictions plus cached prices into ranked trade signals.
// Scanning is pure and idempotent: the same inputs produce the same
// signal list.
type Scanner struct {
	cfg    Config
	logger zerolog.Logger
	clock  func() time.Time
}

// New creates a scanner.
func New(cfg Config, logger zerolog.Logger) *Scanner {
	return &Scanner{cfg: cfg, logger: logger, clock: time.Now}
}

// NewWithClock creates a scanner on an injected clock. Simulation runs
// over historical dates use this so the freshness gate judges predictions
// against simulated time.
func NewWithClock(cfg Config, logger zerolog.Logger, clock func() time.Time) *Scanner {
	return &Scanner{cfg: cfg, logger: logger, clock: clock}
}

// Scan computes both-sided EV for each bracket with a cached price and
// ticker, keeps the better side when it clears the threshold, sizes it,
// and returns the signals EV-descending. Invalid inputs yield no signals.
func (s *Scanner) Scan(pred *forecast.Prediction, prices map[string]int,
	tickers map[string]string, bankrollCents int64) []Signal {

	if err := s.validate(pred, prices); err != nil {
		s.logger.Error().Err(err).
			Str("city", string(pred.City)).
			Time("generated_at", pred.GeneratedAt).
			Msg("scanner input rejected")
		return nil
	}

	var signals []Signal
	for _, b := range pred.Brackets {
		price, havePrice := prices[b.Def.Label]
		ticker, haveTicker := tickers[b.Def.Label]
		if !havePrice || !haveTicker {
			continue
		}

		side, ev := BestSide(b.Probability, price)
		if ev < s.cfg.MinEVThreshold {
			continue
		}

		quantity := 1
		if s.cfg.UseKellySizing {
			quantity = KellyQuantity(b.Probability, price, side, KellyParams{
				Fraction:               s.cfg.KellyFraction,
				BankrollCents:          bankrollCents,
				MaxContractsPerTrade:   s.cfg.MaxContractsPerTrade,
				MaxBankrollPctPerTrade: s.cfg.MaxBankrollPctPerTrade,
				MaxTradeSizeCents:      s.cfg.MaxTradeSizeCents,
			})
			if quantity == 0 {
				continue
			}
		}

		signals = append(signals, Signal{
			City:              pred.City,
			Date:              pred.Date,
			Ticker:            ticker,
			Bracket:           b.Def.Label,
			Side:              side,
			PriceCents:        price,
			Quantity:          quantity,
			ModelProbability:  b.Probability,
			MarketProbability: MarketProbability(price, side),
			EV:                ev,
			Confidence:        pred.Confidence,
		})
	}

	// EV descending; bracket label breaks ties so runs are reproducible.
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].EV != signals[j].EV {
			return signals[i].EV > signals[j].EV
		}
		return signals[i].Bracket < signals[j].Bracket
	})
	return signals
}

// validate applies the defensive gates on the scanner's inputs.
func (s *Scanner) validate(pred *forecast.Prediction, prices map[string]int) error {
	if len(pred.Brackets) != 6 {
		return errBracketCount(len(pred.Brackets))
	}

	var sum float64
	for _, b := range pred.Brackets {
		if math.IsNaN(b.Probability) || b.Probability < 0 {
			return errBadProbability(b.Def.Label, b.Probability)
		}
		sum += b.Probability
	}
	if sum < 0.95 || sum > 1.05 {
		return errBadSum(sum)
	}

	if age := s.clock().Sub(pred.GeneratedAt); age > maxPredictionAge {
		return errStale(age)
	}

	for label, price := range prices {
		if err := domain.ValidatePriceCents(price); err != nil {
			return errBadPrice(label, err)
		}
	}
	return nil
}
