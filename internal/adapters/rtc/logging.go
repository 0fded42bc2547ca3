package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// LoggerFactory hands pion a zerolog-backed logger per scope (ice, dtls, sctp, ...).
type LoggerFactory struct {
	base zerolog.Logger
}

func NewLoggerFactory(base zerolog.Logger) *LoggerFactory {
	return &LoggerFactory{base: base}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{log: f.base.With().Str("module", "pion").Str("scope", scope).Logger()}
}

type scopedLogger struct {
	log zerolog.Logger
}

func (l *scopedLogger) Trace(msg string)                  { l.log.Trace().Msg(msg) }
func (l *scopedLogger) Tracef(format string, args ...any) { l.log.Trace().Msgf(format, args...) }
func (l *scopedLogger) Debug(msg string)                  { l.log.Debug().Msg(msg) }
func (l *scopedLogger) Debugf(format string, args ...any) { l.log.Debug().Msgf(format, args...) }
func (l *scopedLogger) Info(msg string)                   { l.log.Info().Msg(msg) }
func (l *scopedLogger) Infof(format string, args ...any)  { l.log.Info().Msgf(format, args...) }
func (l *scopedLogger) Warn(msg string)                   { l.log.Warn().Msg(msg) }
func (l *scopedLogger) Warnf(format string, args ...any)  { l.log.Warn().Msgf(format, args...) }
func (l *scopedLogger) Error(msg string)                  { l.log.Error().Msg(msg) }
func (l *scopedLogger) Errorf(format string, args ...any) { l.log.Error().Msgf(format, args...) }
