// Package stdlogger adapts the global zerolog logger to leveled printf
// style interfaces expected by third party libraries.
package stdlogger

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Logger forwards printf style calls to the global zerolog logger.
type Logger struct{}

// New returns a printf style logger backed by zerolog.
func New() *Logger {
	return &Logger{}
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	log.Debug().Msgf(format, args...)
}

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...interface{}) {
	log.Info().Msgf(format, args...)
}

// Warningf logs at warn level.
func (l *Logger) Warningf(format string, args ...interface{}) {
	log.Warn().Msgf(format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf(format, args...)
}

// Printf implements the context aware printf interface used by go-redis.
func (l *Logger) Printf(_ context.Context, format string, args ...interface{}) {
	log.Info().Msgf(format, args...)
}
