package logger

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a logger writing to the output chosen by
// Configure. Every line carries the service name and the component.
func NewZerologLogger(component string) Logger {
	out := currentOutput()
	if consoleOutput() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(out).With().Timestamp().
		Str("service", "tracet").
		Str("component", component).
		Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

// Debugw writes fields in key order with their native zerolog types so that
// identifiers stay strings and flags stay booleans in the JSON output.
func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	if !ev.Enabled() {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			ev = ev.Str(k, v)
		case bool:
			ev = ev.Bool(k, v)
		case int:
			ev = ev.Int(k, v)
		case float64:
			ev = ev.Float64(k, v)
		case time.Time:
			ev = ev.Time(k, v)
		case time.Duration:
			ev = ev.Dur(k, v)
		case error:
			ev = ev.AnErr(k, v)
		case fmt.Stringer:
			ev = ev.Stringer(k, v)
		default:
			ev = ev.Interface(k, v)
		}
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
