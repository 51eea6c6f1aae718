package logger

import (
	"io"
	"os"
	"saas-billing/internal/config"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service logger from LOG_LEVEL and LOG_FORMAT. An unknown
// level falls back to info; any format other than "console" emits JSON.
func New(logCfg *config.Log) zerolog.Logger {
	return NewWithWriter(logCfg, os.Stdout)
}

func NewWithWriter(logCfg *config.Log, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(logCfg.Level)
	if err != nil || logCfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if logCfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
