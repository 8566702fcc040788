package syncer

import (
	"fmt"

	"github.com/rs/zerolog"
)

// cronLogger routes robfig/cron diagnostics into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) fields(ev *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ev = ev.Str(fmt.Sprint(keysAndValues[i]), fmt.Sprint(keysAndValues[i+1]))
	}
	return ev
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.fields(l.log.Debug(), keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.fields(l.log.Error().Err(err), keysAndValues).Msg("cron: " + msg)
}
