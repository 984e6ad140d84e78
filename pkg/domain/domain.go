// Package domain holds the shared value types for weather bracket trading:
// cities, sides, prices in cents, bracket labels, and the exchange fee
// formula. Everything here is a plain value with no I/O.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrUnknownCity is returned when a city code is not one of the four
	// supported markets.
	ErrUnknownCity = errors.New("domain: unknown city code")

	// ErrInvalidPrice is returned when a contract price is outside [1, 99]
	// cents.
	ErrInvalidPrice = errors.New("domain: price must be between 1 and 99 cents")

	// ErrInvalidProbability is returned when a probability is outside [0, 1]
	// or is NaN.
	ErrInvalidProbability = errors.New("domain: probability must be in [0, 1]")

	// ErrInvalidSide is returned when a side string is neither long nor short.
	ErrInvalidSide = errors.New("domain: invalid side")
)

// City identifies one of the four supported temperature markets.
type City string

// Supported cities.
const (
	CityNYC City = "NYC"
	CityLAX City = "LAX"
	CityCHI City = "CHI"
	CityMIA City = "MIA"
)

// cityInfo maps each city to its exchange and weather metadata.
var cityInfo = map[City]struct {
	name        string
	eventPrefix string
	metar       string
	timezone    string
}{
	CityNYC: {"New York", "KXHIGHNY", "JFK", "America/New_York"},
	CityLAX: {"Los Angeles", "KXHIGHLAX", "LAX", "America/Los_Angeles"},
	CityCHI: {"Chicago", "KXHIGHCHI", "ORD", "America/Chicago"},
	CityMIA: {"Miami", "KXHIGHMIA", "MIA", "America/New_York"},
}

// ParseCity validates a city code string.
func ParseCity(s string) (City, error) {
	c := City(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := cityInfo[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCity, s)
	}
	return c, nil
}

// Cities returns all supported cities in lexicographic order. Cycle
// processing iterates this slice so runs are reproducible.
func Cities() []City {
	out := make([]City, 0, len(cityInfo))
	for c := range cityInfo {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Name returns the human-readable city name.
func (c City) Name() string { return cityInfo[c].name }

// EventPrefix returns the exchange series prefix for the city's daily high
// temperature event (e.g. KXHIGHNY).
func (c City) EventPrefix() string { return cityInfo[c].eventPrefix }

// MetarStation returns the METAR station code used for settlement
// observations.
func (c City) MetarStation() string { return cityInfo[c].metar }

// Timezone returns the IANA timezone of the city.
func (c City) Timezone() string { return cityInfo[c].timezone }

// Valid reports whether the city is one of the supported four.
func (c City) Valid() bool {
	_, ok := cityInfo[c]
	return ok
}

// Side is the direction of a bracket position. Long corresponds to the
// exchange's YES side, short to NO.
type Side string

// Position sides.
const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide validates a side string.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideLong:
		return SideLong, nil
	case SideShort:
		return SideShort, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// ExchangeSide returns the exchange encoding for the side ("yes" or "no").
func (s Side) ExchangeSide() string {
	if s == SideShort {
		return "no"
	}
	return "yes"
}

// SideFromExchange converts an exchange "yes"/"no" string to a Side.
func SideFromExchange(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return SideLong, nil
	case "no":
		return SideShort, nil
	}
	return "", fmt.Errorf("%w: exchange side %q", ErrInvalidSide, s)
}

// ValidatePriceCents checks that a quoted contract price is an integer in
// [1, 99] cents. Prices of 0 and 100 would mean a settled market and are
// rejected.
func ValidatePriceCents(price int) error {
	if price < 1 || price > 99 {
		return fmt.Errorf("%w: got %d", ErrInvalidPrice, price)
	}
	return nil
}

// ValidateProbability checks that p lies in [0, 1]. NaN fails the
// comparison chain and is rejected.
func ValidateProbability(p float64) error {
	if !(p >= 0 && p <= 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidProbability, p)
	}
	return nil
}

// DateKey formats a date as the exchange's YYMMDD key used in cache keys
// and synthetic tickers.
func DateKey(t time.Time) string {
	return t.Format("060102")
}

// EventDateCode formats a date the way the exchange embeds it in event
// tickers, e.g. 26JAN05.
func EventDateCode(t time.Time) string {
	return strings.ToUpper(t.Format("06Jan02"))
}

// easternTime is the trading-day reference zone. All daily counters reset
// at midnight Eastern.
var easternTime = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("domain: load location %s: %v", name, err))
	}
	return loc
}

// Eastern returns the Eastern Time location.
func Eastern() *time.Location { return easternTime }

// TradingDay returns the calendar date of t in Eastern Time, truncated to
// midnight Eastern.
func TradingDay(t time.Time) time.Time {
	et := t.In(easternTime)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, easternTime)
}

// EndOfTradingDay returns 23:59:59 Eastern on the trading day containing t.
// Used for rest-of-day cooldowns.
func EndOfTradingDay(t time.Time) time.Time {
	et := t.In(easternTime)
	return time.Date(et.Year(), et.Month(), et.Day(), 23, 59, 59, 0, easternTime)
}
