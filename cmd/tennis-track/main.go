// Command tennis-track replays per-frame detections through the tracking
// pipeline. Each input file is one match of JSON-lines frames; events (and
// optionally per-frame results) are written as JSON lines to stdout and
// persisted to SQLite.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tarcisiobannwart/tennis-tracking/internal/units"
	"github.com/tarcisiobannwart/tennis-tracking/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to tuning config JSON (defaults apply when empty)")
	dbFile      = flag.String("db", "", "SQLite database for events and calibrations (temporary when empty)")
	outDir      = flag.String("out", "", "Directory for court plots and speed charts (skipped when empty)")
	speedUnits  = flag.String("units", units.KMPH, "Speed units for reports: "+units.GetValidUnitsString())
	parallel    = flag.Int("parallel", 0, "Matches processed at once (0 = all)")
	emitFrames  = flag.Bool("frames", false, "Write every frame result to stdout, not only events")
	confidence  = flag.Float64("reversal-confidence", 0.8, "Score given to vertical reversals by the built-in scorer")
	metricsAddr = flag.String("metrics-listen", "", "Serve Prometheus metrics on this address while running")
	logFormat   = flag.String("log-format", "json", "Log format: json or console")
	logOps      = flag.String("log-ops", "stderr", "Ops log destination: stdout, stderr, file path or empty")
	logDiag     = flag.String("log-diag", "", "Diag log destination")
	logTrace    = flag.String("log-trace", "", "Trace log destination")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] match.jsonl [match.jsonl...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("tennis-track %s\n", version.String())
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid -units %q, expected one of %s", *speedUnits, units.GetValidUnitsString())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		ConfigFile:  *configFile,
		DBFile:      *dbFile,
		OutDir:      *outDir,
		Units:       *speedUnits,
		Parallel:    *parallel,
		Frames:      *emitFrames,
		Confidence:  *confidence,
		MetricsAddr: *metricsAddr,
		LogFormat:   *logFormat,
		LogOps:      *logOps,
		LogDiag:     *logDiag,
		LogTrace:    *logTrace,
		Inputs:      flag.Args(),
	}
	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("tennis-track: %v", err)
	}
}

// openInput opens a match file, or stdin for "-".
func openInput(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}
