package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidBracketLabel is returned when a bracket label cannot be parsed.
var ErrInvalidBracketLabel = errors.New("domain: invalid bracket label")

// BoundKind discriminates the three bracket shapes.
type BoundKind int

// Bracket shapes: the bottom catch-all, a closed interval, and the top
// catch-all.
const (
	BoundBelow BoundKind = iota
	BoundRange
	BoundAbove
)

// BracketBound is the parsed form of a bracket label. Labels are parsed
// once at construction and never re-parsed.
type BracketBound struct {
	Kind  BoundKind
	Lower float64 // set for BoundRange and BoundAbove
	Upper float64 // set for BoundRange and BoundBelow
}

// ParseBracketLabel parses a bracket label into its bound structure.
// Accepted forms, after stripping whitespace and any °, F or °F suffix:
//
//	<=X   bottom catch-all, hit when actual ≤ X
//	>=X   top catch-all, hit when actual ≥ X
//	L-U   closed interval, hit when L ≤ actual ≤ U
func ParseBracketLabel(label string) (BracketBound, error) {
	s := cleanLabel(label)
	if s == "" {
		return BracketBound{}, fmt.Errorf("%w: empty label", ErrInvalidBracketLabel)
	}

	switch {
	case strings.HasPrefix(s, "<="):
		v, err := strconv.ParseFloat(strings.TrimSpace(s[2:]), 64)
		if err != nil {
			return BracketBound{}, fmt.Errorf("%w: %q", ErrInvalidBracketLabel, label)
		}
		return BracketBound{Kind: BoundBelow, Upper: v}, nil

	case strings.HasPrefix(s, ">="):
		v, err := strconv.ParseFloat(strings.TrimSpace(s[2:]), 64)
		if err != nil {
			return BracketBound{}, fmt.Errorf("%w: %q", ErrInvalidBracketLabel, label)
		}
		return BracketBound{Kind: BoundAbove, Lower: v}, nil
	}

	// Interval form L-U. Split on the first dash that is not a leading
	// minus sign.
	for i := 1; i < len(s); i++ {
		if s[i] != '-' {
			continue
		}
		lo, errLo := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
		hi, errHi := strconv.ParseFloat(strings.TrimSpace(s[i+1:]), 64)
		if errLo != nil || errHi != nil {
			continue
		}
		if hi < lo {
			return BracketBound{}, fmt.Errorf("%w: %q upper below lower", ErrInvalidBracketLabel, label)
		}
		return BracketBound{Kind: BoundRange, Lower: lo, Upper: hi}, nil
	}

	return BracketBound{}, fmt.Errorf("%w: %q", ErrInvalidBracketLabel, label)
}

// cleanLabel strips whitespace, degree symbols and the trailing F from a
// label, e.g. "53-54°F" -> "53-54".
func cleanLabel(label string) string {
	s := strings.TrimSpace(label)
	s = strings.ReplaceAll(s, "°", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSuffix(s, "F")
	s = strings.TrimSuffix(s, "f")
	return s
}

// Hit reports whether an observed value lands inside the bracket. Interval
// bounds are inclusive on both ends.
func (b BracketBound) Hit(actual float64) bool {
	switch b.Kind {
	case BoundBelow:
		return actual <= b.Upper
	case BoundAbove:
		return actual >= b.Lower
	default:
		return actual >= b.Lower && actual <= b.Upper
	}
}

// String renders the canonical label for the bound.
func (b BracketBound) String() string {
	switch b.Kind {
	case BoundBelow:
		return fmt.Sprintf("<=%gF", b.Upper)
	case BoundAbove:
		return fmt.Sprintf(">=%gF", b.Lower)
	default:
		return fmt.Sprintf("%g-%gF", b.Lower, b.Upper)
	}
}

// BracketDef defines one bracket of a six-bracket distribution for the CDF
// engine. A nil Lower marks the bottom catch-all, a nil Upper the top one.
type BracketDef struct {
	Label string
	Lower *float64
	Upper *float64
}

// DefFromLabel parses a label into a BracketDef, keeping the original
// label text.
func DefFromLabel(label string) (BracketDef, error) {
	b, err := ParseBracketLabel(label)
	if err != nil {
		return BracketDef{}, err
	}
	def := BracketDef{Label: label}
	switch b.Kind {
	case BoundBelow:
		u := b.Upper
		def.Upper = &u
	case BoundAbove:
		l := b.Lower
		def.Lower = &l
	default:
		l, u := b.Lower, b.Upper
		def.Lower = &l
		def.Upper = &u
	}
	return def, nil
}

// DidHit parses a label and adjudicates an observed value against it.
// Convenience for the settlement path.
func DidHit(label string, actual float64) (bool, error) {
	b, err := ParseBracketLabel(label)
	if err != nil {
		return false, err
	}
	return b.Hit(actual), nil
}
