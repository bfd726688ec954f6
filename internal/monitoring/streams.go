package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Stream names the three log streams every tracking package writes to.
type Stream string

const (
	// StreamOps carries actionable warnings: rejected calibrations, dropped frames.
	StreamOps Stream = "ops"
	// StreamDiag carries day-to-day diagnostics and tuning context.
	StreamDiag Stream = "diag"
	// StreamTrace carries high-frequency per-frame telemetry.
	StreamTrace Stream = "trace"
)

// LogConfig selects output destinations for the three streams.
// An empty destination disables the stream.
type LogConfig struct {
	Format string // json or console
	Ops    string // stdout, stderr, file path or ""
	Diag   string
	Trace  string
}

// NewStreamLogger returns a zerolog logger tagged with the component and
// stream names, or nil when w is nil so callers can skip formatting.
func NewStreamLogger(component string, stream Stream, w io.Writer) *zerolog.Logger {
	if w == nil {
		return nil
	}
	l := zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Str("stream", string(stream)).
		Logger()
	return &l
}

// LogWriters holds the opened stream writers. Close releases any files.
type LogWriters struct {
	Ops, Diag, Trace io.Writer
	closers          []io.Closer
}

// Close closes every file opened by OpenLogWriters.
func (w *LogWriters) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.closers = nil
	return first
}

// OpenLogWriters resolves each destination in cfg to a writer.
// The same file path named by several streams is opened once.
func OpenLogWriters(cfg LogConfig) (*LogWriters, error) {
	out := &LogWriters{}
	opened := make(map[string]io.Writer)

	resolve := func(dest string) (io.Writer, error) {
		var w io.Writer
		switch strings.TrimSpace(dest) {
		case "":
			return nil, nil
		case "stdout":
			w = os.Stdout
		case "stderr":
			w = os.Stderr
		default:
			if existing, ok := opened[dest]; ok {
				return existing, nil
			}
			f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("could not open log file %s: %w", dest, err)
			}
			out.closers = append(out.closers, f)
			w = f
		}
		if cfg.Format == "console" {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
		}
		opened[dest] = w
		return w, nil
	}

	var err error
	if out.Ops, err = resolve(cfg.Ops); err != nil {
		out.Close()
		return nil, err
	}
	if out.Diag, err = resolve(cfg.Diag); err != nil {
		out.Close()
		return nil, err
	}
	if out.Trace, err = resolve(cfg.Trace); err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}
