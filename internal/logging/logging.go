// Package logging builds the process logger. In stdio mode nothing may be
// written to stdout, so logs go to a rotated file and, when asked for, to
// stderr.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"shopsavr-agent/internal/config"
)

// New returns a logger for cfg and a closer for its file. With no log file
// and no console the logger discards everything.
func New(cfg config.ServerConfig) (zerolog.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return zerolog.Nop(), closer, err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj
	}
	if cfg.LogConsole {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.LogLevel)).
		With().
		Timestamp().
		Str("service", cfg.Name).
		Logger()
	return logger, closer, nil
}

// ParseLevel maps a config level to zerolog, defaulting to info.
func ParseLevel(raw string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || raw == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
