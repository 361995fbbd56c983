package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/config"
)

// Setup configures the global zerolog logger and returns it.
func Setup(cfg config.LogConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		out = os.Stdout
	}

	base := zerolog.New(out).
		With().
		Timestamp().
		Str("service", "verdant-sentinel").
		Logger().
		Level(parseLevel(cfg.Level))

	log.Logger = base
	zerolog.DefaultContextLogger = &base
	return base
}

func parseLevel(raw string) zerolog.Level {
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
