// Package logging configures zerolog for the trader and provides the
// redacting field helper every component uses when attaching request or
// error context to log events.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/faults"
)

// Setup configures the process-wide logger. When pretty is true a console
// writer is used, otherwise structured JSON on stderr.
func Setup(level string, pretty bool) zerolog.Logger {
	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(out).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// Fields attaches a context map to a log event, redacting any value whose
// key names a secret. This is the only sanctioned way to log dynamic
// context maps.
func Fields(e *zerolog.Event, ctx map[string]any) *zerolog.Event {
	for k, v := range ctx {
		if faults.IsSecretKey(k) {
			e = e.Str(k, faults.Redacted)
			continue
		}
		e = e.Str(k, fmt.Sprintf("%v", v))
	}
	return e
}

// Fault logs a taxonomy error with its redacted context attached.
func Fault(e *zerolog.Event, err error) *zerolog.Event {
	e = e.Err(err)
	var fe *faults.Error
	if ok := asFault(err, &fe); ok {
		for k, v := range fe.Context() {
			e = e.Str(k, v)
		}
	}
	return e
}

func asFault(err error, target **faults.Error) bool {
	for err != nil {
		if fe, ok := err.(*faults.Error); ok {
			*target = fe
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Unwrap() []error }:
			for _, e := range x.Unwrap() {
				if asFault(e, target) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	return false
}
