package poller

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLogger is a simple logger that uses zerolog for zero-allocation structured logging.
type DefaultLogger struct {
	logger zerolog.Logger
}

// NewDefaultLogger creates a DefaultLogger with stderr output and timestamps.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// NewLogger creates a DefaultLogger writing to w at the given level. With
// pretty set, output goes through zerolog's console writer.
func NewLogger(w io.Writer, level string, pretty bool) *DefaultLogger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return &DefaultLogger{
		logger: zerolog.New(w).Level(lvl).With().Timestamp().Logger(),
	}
}

// With returns a child logger that always carries the given key/value pairs.
func (l *DefaultLogger) With(keysAndValues ...interface{}) *DefaultLogger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ctx = ctx.Interface(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1])
	}
	return &DefaultLogger{logger: ctx.Logger()}
}

func (l *DefaultLogger) log(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			if err, ok := keysAndValues[i+1].(error); ok {
				event.AnErr(key, err)
				continue
			}
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

// Debug logs a debug-level message with structured key/value pairs.
func (l *DefaultLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

// Info logs an info-level message with structured key/value pairs.
func (l *DefaultLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Info(), msg, keysAndValues...)
}

// Warn logs a warning-level message with structured key/value pairs.
func (l *DefaultLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Warn(), msg, keysAndValues...)
}

// Error logs an error-level message with structured key/value pairs.
func (l *DefaultLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Error(), msg, keysAndValues...)
}
