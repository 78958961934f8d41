package logging

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	TraceLevel = zerolog.TraceLevel
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	Disabled   = zerolog.Disabled
)

var current atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(InfoLevel)
	current.Store(&l)
}

func apply(cfg Config) {
	var l zerolog.Logger
	if cfg.Bypass {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		})
	}
	if cfg.Timestamp {
		l = l.With().Timestamp().Logger()
	}
	l = l.Level(cfg.Level)
	current.Store(&l)
}

// Logger returns the process logger for callers that want structured events.
func Logger() zerolog.Logger {
	return *current.Load()
}

// SetLevel changes the level of the process logger in place.
func SetLevel(level Level) {
	l := current.Load().Level(level)
	current.Store(&l)
}

// CurrentLevel reports the active level.
func CurrentLevel() Level {
	return current.Load().GetLevel()
}

func Tracef(format string, args ...any) { current.Load().Trace().Msgf(format, args...) }
func Debugf(format string, args ...any) { current.Load().Debug().Msgf(format, args...) }
func Infof(format string, args ...any)  { current.Load().Info().Msgf(format, args...) }
func Warnf(format string, args ...any)  { current.Load().Warn().Msgf(format, args...) }
func Errf(format string, args ...any)   { current.Load().Error().Msgf(format, args...) }

// Logf writes regardless of level; tests use it to narrate steps.
func Logf(format string, args ...any) {
	current.Load().Log().Msg(fmt.Sprintf(format, args...))
}

// Fatalf logs and exits the process.
func Fatalf(format string, args ...any) {
	current.Load().Fatal().Msgf(format, args...)
}
