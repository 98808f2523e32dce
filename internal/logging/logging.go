// Package logging configures the zerolog global logger and bridges gorm's
// logger onto it.
package logging

import (
	"io"
	stlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"
)

// ParseLevel maps a config level name to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger writing to w. Anything other than "json" gets the
// human-readable console writer.
func New(w io.Writer, level, format string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// Init replaces the global logger and level.
func Init(level, format string) {
	lvl := ParseLevel(level)
	zerolog.SetGlobalLevel(lvl)
	log.Logger = New(os.Stderr, level, format)
	log.Debug().Str("level", lvl.String()).Str("format", format).Msg("logger initialized")
}

// GormLogger returns a gorm logger that writes through the global zerolog
// logger at a verbosity derived from the current global level.
func GormLogger() gormlogger.Interface {
	return gormlogger.New(
		stlog.New(log.Logger, "", 0),
		gormlogger.Config{
			SlowThreshold:             gormlogger.DefaultSlowThreshold,
			LogLevel:                  gormLevel(zerolog.GlobalLevel()),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func gormLevel(l zerolog.Level) gormlogger.LogLevel {
	switch {
	case l == zerolog.Disabled:
		return gormlogger.Silent
	case l <= zerolog.DebugLevel:
		return gormlogger.Info
	case l == zerolog.InfoLevel, l == zerolog.WarnLevel:
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}
