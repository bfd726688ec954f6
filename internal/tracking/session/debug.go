package session

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/tarcisiobannwart/tennis-tracking/internal/monitoring"
)

var (
	opsLogger   *zerolog.Logger
	diagLogger  *zerolog.Logger
	traceLogger *zerolog.Logger
)

// SetLogWriters configures the three logging streams for the session package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = monitoring.NewStreamLogger("session", monitoring.StreamOps, ops)
	diagLogger = monitoring.NewStreamLogger("session", monitoring.StreamDiag, diag)
	traceLogger = monitoring.NewStreamLogger("session", monitoring.StreamTrace, trace)
}

// opsf logs to the ops stream (actionable warnings, rejected input, data loss).
func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Warn().Msgf(format, args...)
	}
}

// diagf logs to the diag stream (day-to-day diagnostics, tuning context).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Info().Msgf(format, args...)
	}
}

// tracef logs to the trace stream (high-frequency per-frame telemetry).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Debug().Msgf(format, args...)
	}
}
