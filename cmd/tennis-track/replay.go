package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tarcisiobannwart/tennis-tracking/internal/config"
	"github.com/tarcisiobannwart/tennis-tracking/internal/monitoring"
	"github.com/tarcisiobannwart/tennis-tracking/internal/security"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/monitor"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/session"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/storage/sqlite"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/tracks"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/trajectory"
)

type options struct {
	ConfigFile  string
	DBFile      string
	OutDir      string
	Units       string
	Parallel    int
	Frames      bool
	Confidence  float64
	MetricsAddr string
	LogFormat   string
	LogOps      string
	LogDiag     string
	LogTrace    string
	Inputs      []string
}

// input is an opened match file positioned after its first frame.
type input struct {
	name  string
	rc    io.ReadCloser
	dec   *json.Decoder
	first session.FrameInput
	queue *session.Queue
	sess  *session.Session
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	tuning := config.EmptyTuningConfig()
	if opts.ConfigFile != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(opts.ConfigFile); err != nil {
			return err
		}
	}
	cfg := session.ConfigFromTuning(tuning)

	writers, err := monitoring.OpenLogWriters(monitoring.LogConfig{
		Format: opts.LogFormat,
		Ops:    opts.LogOps,
		Diag:   opts.LogDiag,
		Trace:  opts.LogTrace,
	})
	if err != nil {
		return err
	}
	defer writers.Close()
	setLogWriters(writers)

	dbPath := opts.DBFile
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "tennis-track")
		if err != nil {
			return fmt.Errorf("create temporary database dir: %w", err)
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "tracking.db")
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	metrics, err := monitoring.NewTrackingMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				monitoring.Logf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	inputs, err := openInputs(opts.Inputs)
	defer func() {
		for _, in := range inputs {
			in.rc.Close()
		}
	}()
	if err != nil {
		return err
	}

	out := &jsonSink{enc: json.NewEncoder(stdout), frames: opts.Frames}
	scorer := trajectory.ReversalScorer{Confidence: opts.Confidence}
	runner := session.Runner{Limit: opts.Parallel}
	for _, in := range inputs {
		var sessOpts []session.Option
		sessOpts = append(sessOpts, session.WithMetrics(metrics))
		if id := matchID(in.name); id != "" {
			sessOpts = append(sessOpts, session.WithID(id))
		}
		in.sess = session.New(cfg, scorer, sessOpts...)
		in.queue = in.sess.NewQueue(in.first.Frame)
		runner.Add(session.Match{
			Session: in.sess,
			Queue:   in.queue,
			Sink:    session.MultiSink{store, out},
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, in := range inputs {
		g.Go(func() error { return feed(gctx, in) })
	}
	g.Go(func() error { return runner.Run(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	for _, in := range inputs {
		if err := report(ctx, store, in.sess.ID(), opts, stderr); err != nil {
			return err
		}
	}
	return nil
}

// openInputs opens every match file and decodes its first frame so the
// queue can start at the right index. Empty files are skipped.
func openInputs(names []string) ([]*input, error) {
	var out []*input
	for _, name := range names {
		rc, err := openInput(name)
		if err != nil {
			return out, fmt.Errorf("open %s: %w", name, err)
		}
		in := &input{name: name, rc: rc, dec: json.NewDecoder(rc)}
		if err := in.dec.Decode(&in.first); err != nil {
			rc.Close()
			if errors.Is(err, io.EOF) {
				monitoring.Logf("%s: no frames, skipping", name)
				continue
			}
			return out, fmt.Errorf("%s: decode first frame: %w", name, err)
		}
		out = append(out, in)
	}
	return out, nil
}

// feed pushes every frame of in to its queue and closes the queue at EOF.
func feed(ctx context.Context, in *input) error {
	defer in.queue.Close()
	frame := in.first
	for n := 1; ; n++ {
		if err := in.queue.Put(ctx, frame); err != nil {
			return fmt.Errorf("%s: %w", in.name, err)
		}
		frame = session.FrameInput{}
		if err := in.dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: frame record %d: %w", in.name, n+1, err)
		}
	}
}

// matchID derives a match identifier from an input file name. Stdin gets a
// generated identifier.
func matchID(name string) string {
	if name == "-" {
		return ""
	}
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func setLogWriters(w *monitoring.LogWriters) {
	court.SetLogWriters(w.Ops, w.Diag, w.Trace)
	tracks.SetLogWriters(w.Ops, w.Diag, w.Trace)
	trajectory.SetLogWriters(w.Ops, w.Diag, w.Trace)
	session.SetLogWriters(w.Ops, w.Diag, w.Trace)
	sqlite.SetLogWriters(w.Ops, w.Diag, w.Trace)
	if l := monitoring.NewStreamLogger("tennis-track", monitoring.StreamOps, w.Ops); l != nil {
		monitoring.SetLogger(l.Printf)
	} else {
		monitoring.SetLogger(nil)
	}
}

// report prints a match summary and renders plots from the stored output.
func report(ctx context.Context, store *sqlite.Store, match string, opts options, w io.Writer) error {
	events, err := store.Events(ctx, match, "")
	if err != nil {
		return err
	}
	path, err := store.BallPath(ctx, match)
	if err != nil {
		return err
	}
	samples := make([]tracks.Sample, len(path))
	for i, b := range path {
		samples[i] = b.Sample
	}
	fmt.Fprintf(w, "match %s: %s\n", match, monitor.Summarize(samples, events).Format(opts.Units))

	if opts.OutDir == "" {
		return nil
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	plotPath, err := security.OutputPath(opts.OutDir, match, "_court.png")
	if err != nil {
		return err
	}
	err = monitor.SaveCourtPlot(plotPath, "Match "+match, samples, events)
	switch {
	case errors.Is(err, monitor.ErrNoCourtPositions):
		fmt.Fprintf(w, "match %s: no calibrated ball positions, court plot skipped\n", match)
	case err != nil:
		return err
	}

	chartPath, err := security.OutputPath(opts.OutDir, match, "_speed.html")
	if err != nil {
		return err
	}
	f, err := os.Create(chartPath)
	if err != nil {
		return fmt.Errorf("create speed chart: %w", err)
	}
	if err := monitor.RenderSpeedPage(f, match, samples, events, opts.Units); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// jsonSink writes events, and optionally frame results, as JSON lines.
type jsonSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	frames bool
}

type outputRecord struct {
	Kind  string               `json:"kind"`
	Match string               `json:"match"`
	Frame *session.FrameResult `json:"frame,omitempty"`
	Event *trajectory.Event    `json:"event,omitempty"`
}

func (s *jsonSink) OnFrame(_ context.Context, res session.FrameResult) error {
	if !s.frames {
		return nil
	}
	return s.write(outputRecord{Kind: "frame", Match: res.Match, Frame: &res})
}

func (s *jsonSink) OnEvent(_ context.Context, match string, ev trajectory.Event) error {
	return s.write(outputRecord{Kind: "event", Match: match, Event: &ev})
}

func (s *jsonSink) write(rec outputRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}
