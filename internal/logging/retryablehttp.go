package logging

import (
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// LeveledLogger routes retryablehttp's logging into zerolog
type LeveledLogger struct {
	logger zerolog.Logger
}

var _ retryablehttp.LeveledLogger = (*LeveledLogger)(nil)

// NewLeveledLogger tags entries with component=http_client
func NewLeveledLogger(logger zerolog.Logger) *LeveledLogger {
	return &LeveledLogger{logger: logger.With().Str("component", "http_client").Logger()}
}

func (l *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
