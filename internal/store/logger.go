package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slowQuery is the threshold above which statements are logged as warnings.
const slowQuery = 200 * time.Millisecond

// GormLogger routes GORM logging into zerolog.
type GormLogger struct {
	log      zerolog.Logger
	LogLevel logger.LogLevel
}

// NewGormLogger returns a logger that reports warnings and errors.
func NewGormLogger(l zerolog.Logger) *GormLogger {
	return &GormLogger{log: l.With().Str("component", "gorm").Logger(), LogLevel: logger.Warn}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	n := *l
	n.LogLevel = level
	return &n
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.log.Info().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.log.Warn().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.log.Error().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		sql, rows := fc()
		l.log.Error().Err(err).Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("sql error")
	case elapsed > slowQuery && l.LogLevel >= logger.Warn:
		sql, rows := fc()
		l.log.Warn().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("slow sql")
	case l.LogLevel >= logger.Info:
		sql, rows := fc()
		l.log.Debug().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("sql")
	}
}
