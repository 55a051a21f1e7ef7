package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	config "github.com/treinanr/academy/configs"
)

// NewLogger creates the service logger. Components derive their own with
// logger.With().Str("component", ...).
func NewLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Str("service", cfg.AppName).Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}
