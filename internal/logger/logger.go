package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bilal/lattice-bridge/internal/config"
)

// ParseLevel maps the configured level name, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger writing to out in the configured format and, when
// lcfg.File is set, to a rotated JSON file as well.
func New(lcfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	var w io.Writer = out
	if strings.ToLower(lcfg.Format) == "console" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	if lcfg.File != "" {
		w = zerolog.MultiLevelWriter(w, &lumberjack.Logger{
			Filename:   lcfg.File,
			MaxSize:    lcfg.MaxSizeMB,
			MaxBackups: lcfg.MaxBackups,
			MaxAge:     lcfg.MaxAgeDays,
		})
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func Init(lcfg config.LoggingConfig) {
	zerolog.SetGlobalLevel(ParseLevel(lcfg.Level))
	log.Logger = New(lcfg, os.Stderr)
}
