package scan

import (
	"time"

	"github.com/gopher-lab/weathertrader/internal/faults"
)

func errBracketCount(n int) error {
	return faults.New(faults.ErrInput, "prediction must have exactly 6 brackets").
		With("brackets", n)
}

func errBadProbability(label string, p float64) error {
	return faults.New(faults.ErrInput, "bracket probability is NaN or negative").
		With("bracket", label).
		With("probability", p)
}

func errBadSum(sum float64) error {
	return faults.New(faults.ErrInput, "bracket probabilities sum out of tolerance").
		With("sum", sum)
}

func errStale(age time.Duration) error {
	return faults.New(faults.ErrStaleData, "prediction too old").
		With("age_minutes", int(age.Minutes()))
}

func errBadPrice(label string, cause error) error {
	return faults.Wrap(faults.ErrInput, "quoted price out of range", cause).
		With("bracket", label)
}
