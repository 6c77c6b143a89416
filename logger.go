/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger defines the logging interface used throughout perch.
//
// The gateway connection, session state machine, rate-limit coordinator and
// shard supervisor all log through this interface; none of them know about
// zerolog directly, so a caller can plug in any implementation (e.g. to
// route logs into an existing application logger).
type Logger interface {
	Info(msg string)
	Debug(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)

	// WithField adds a single field to the logger context.
	WithField(key string, value any) Logger
	// WithFields adds multiple fields to the logger context.
	WithFields(fields map[string]any) Logger
}

// LogLevel defines the severity level.
type LogLevel int

const (
	LogLevelDebugLevel LogLevel = iota
	LogLevelInfoLevel
	LogLevelWarnLevel
	LogLevelErrorLevel
	LogLevelFatalLevel
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebugLevel:
		return zerolog.DebugLevel
	case LogLevelInfoLevel:
		return zerolog.InfoLevel
	case LogLevelWarnLevel:
		return zerolog.WarnLevel
	case LogLevelErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

// DefaultLogger is a zerolog-backed Logger. zerolog is the structured
// logger this library's gateway-proxy siblings (Sandwich-Daemon,
// Sandwich-Producer) depend on; perch reuses it instead of hand-rolling a
// JSON encoder around encoding/json.
type DefaultLogger struct {
	logger zerolog.Logger
}

var _ Logger = (*DefaultLogger)(nil)

// NewDefaultLogger creates a Logger writing to out at the given minimum level.
func NewDefaultLogger(out io.Writer, level LogLevel) *DefaultLogger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	l := zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger()
	return &DefaultLogger{logger: l}
}

func (l *DefaultLogger) WithField(key string, value any) Logger {
	return &DefaultLogger{logger: l.logger.With().Interface(key, value).Logger()}
}

func (l *DefaultLogger) WithFields(fields map[string]any) Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &DefaultLogger{logger: ctx.Logger()}
}

func (l *DefaultLogger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *DefaultLogger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *DefaultLogger) Warn(msg string)  { l.logger.Warn().Msg(msg) }
func (l *DefaultLogger) Error(msg string) { l.logger.Error().Msg(msg) }
func (l *DefaultLogger) Fatal(msg string) { l.logger.Fatal().Msg(msg) }
