// Package session runs the per-match tracking pipeline: calibration, track
// association and trajectory validation, fed from an ordered frame queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tarcisiobannwart/tennis-tracking/internal/config"
	"github.com/tarcisiobannwart/tennis-tracking/internal/monitoring"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/tracks"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/trajectory"
)

// ErrOutOfOrder is returned by ProcessFrame for a frame index that does not
// advance past the last processed frame.
var ErrOutOfOrder = errors.New("frame out of order")

// FrameInput is one frame's worth of upstream observations.
type FrameInput struct {
	Frame      int64                  `json:"frame"`
	Timestamp  time.Duration          `json:"timestamp"` // nanoseconds since match start
	Detections []tracks.Detection     `json:"detections"`
	References []court.Correspondence `json:"references,omitempty"`
}

// FrameResult is the per-frame output of a session.
type FrameResult struct {
	Match       string              `json:"match"`
	Frame       int64               `json:"frame"`
	Timestamp   time.Duration       `json:"timestamp"`
	Snapshot    tracks.Snapshot     `json:"snapshot"`
	Events      []trajectory.Event  `json:"events,omitempty"`
	Calibration court.Status        `json:"calibration"`
	Report      tracks.UpdateReport `json:"report"`
}

// Config holds the configuration of every stage of a session.
type Config struct {
	Tracks        tracks.Config
	Calibration   court.Config
	Trajectory    trajectory.Config
	QueueCapacity int
}

// DefaultConfig returns session configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Tracks:        tracks.ConfigFromTuning(cfg),
		Calibration:   court.ConfigFromTuning(cfg),
		Trajectory:    trajectory.ConfigFromTuning(cfg),
		QueueCapacity: cfg.GetQueueCapacity(),
	}
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the match identifier. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithMetrics records session metrics on m.
func WithMetrics(m *monitoring.TrackingMetrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session owns the tracking state of one match. It has a single writer:
// ProcessFrame and Run must not be called concurrently.
type Session struct {
	id      string
	cfg     Config
	metrics *monitoring.TrackingMetrics

	manager   *tracks.Manager
	calib     *court.Model
	validator *trajectory.Validator

	lastFrame int64
	started   bool
}

// New creates a session that scores bounce candidates with scorer.
func New(cfg Config, scorer trajectory.Scorer, opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		manager:   tracks.NewManager(cfg.Tracks),
		calib:     court.NewModel(cfg.Calibration),
		validator: trajectory.NewValidator(cfg.Trajectory, scorer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the match identifier.
func (s *Session) ID() string { return s.id }

// Tracks exposes the session's track manager for read-only inspection.
func (s *Session) Tracks() *tracks.Manager { return s.manager }

// Calibration returns the current calibration status.
func (s *Session) Calibration() court.Status { return s.calib.Status() }

// BallHistory returns the validated samples of the current ball track.
func (s *Session) BallHistory() []trajectory.ValidatedSample { return s.validator.History() }

// NewQueue returns a frame queue sized for this session.
func (s *Session) NewQueue(first int64) *Queue {
	q := NewQueue(s.cfg.QueueCapacity, first)
	q.SetDropHandler(func(_ int64, reason string) {
		s.metrics.RecordDrop(s.id, reason)
	})
	return q
}

// ProcessFrame runs calibration, association and validation for one frame.
// Every non-fatal condition is logged and reflected in the result; the only
// error is ErrOutOfOrder.
func (s *Session) ProcessFrame(in FrameInput) (FrameResult, error) {
	if s.started && in.Frame <= s.lastFrame {
		return FrameResult{}, fmt.Errorf("%w: frame %d after %d", ErrOutOfOrder, in.Frame, s.lastFrame)
	}
	s.started = true
	s.lastFrame = in.Frame
	start := time.Now()

	status, err := s.calib.Calibrate(in.Frame, in.References)
	if err != nil {
		diagf("match %s: %v", s.id, err)
	}
	s.metrics.RecordCalibration(s.id, err != nil, status.Residual, status.Valid)

	var proj tracks.Projector
	if status.Valid {
		proj = s.calib
	}
	snap, rep := s.manager.Update(in.Frame, in.Timestamp, in.Detections, proj)
	if err := rep.Err(); err != nil {
		tracef("match %s frame %d: %v", s.id, in.Frame, err)
	}

	events := s.validateBall(rep)

	for _, ev := range events {
		s.metrics.RecordEvent(s.id, ev.Type.String())
	}
	s.metrics.AddIllConditioned(s.id, rep.IllConditioned)
	for _, class := range tracks.Classes {
		s.metrics.SetLiveTracks(s.id, class.String(), s.manager.Count(class))
	}
	s.metrics.RecordFrame(s.id, time.Since(start).Seconds())

	return FrameResult{
		Match:       s.id,
		Frame:       in.Frame,
		Timestamp:   snap.Timestamp,
		Snapshot:    snap,
		Events:      events,
		Calibration: status,
		Report:      rep,
	}, nil
}

// validateBall feeds the ball track's new sample to the validator, rebinding
// it when the ball track identity changes. Pending bounces are resolved as
// soon as the bound track turns lost.
func (s *Session) validateBall(rep tracks.UpdateReport) []trajectory.Event {
	var events []trajectory.Event
	ball, ok := s.manager.BallTrack()
	if !ok {
		if s.validator.TrackID() != 0 {
			events = append(events, s.validator.Flush()...)
			s.validator.Bind(0)
		}
		return events
	}

	if ball.ID != s.validator.TrackID() {
		if s.validator.TrackID() != 0 {
			events = append(events, s.validator.Flush()...)
		}
		s.validator.Bind(ball.ID)
		diagf("match %s: validating ball track %d", s.id, ball.ID)
		for _, sample := range s.manager.History(ball.ID) {
			events = append(events, s.push(sample)...)
		}
		return events
	}

	if slices.Contains(rep.Lost, ball.ID) {
		diagf("match %s: ball track %d lost, resolving pending bounces", s.id, ball.ID)
		return s.validator.Flush()
	}

	for _, id := range rep.Matched {
		if id != ball.ID {
			continue
		}
		if sample, ok := s.manager.LastSample(id); ok {
			events = append(events, s.push(sample)...)
		}
	}
	return events
}

func (s *Session) push(sample tracks.Sample) []trajectory.Event {
	events, err := s.validator.Push(sample)
	switch {
	case err == nil:
	case errors.Is(err, trajectory.ErrPhysicallyImplausible):
		s.metrics.AddOutliers(s.id, 1)
	case errors.Is(err, trajectory.ErrNonMonotonic):
		diagf("match %s: %v", s.id, err)
	default:
		opsf("match %s: %v", s.id, err)
	}
	return events
}

// Finish resolves pending bounce candidates at the end of the stream.
func (s *Session) Finish() []trajectory.Event {
	events := s.validator.Flush()
	for _, ev := range events {
		s.metrics.RecordEvent(s.id, ev.Type.String())
	}
	return events
}

// Discard drops all track, calibration and trajectory state.
func (s *Session) Discard() {
	s.manager.Reset()
	s.calib.Invalidate()
	s.validator.Bind(0)
	s.started = false
	s.lastFrame = 0
	s.metrics.Forget(s.id)
}

// Run consumes q until it is closed and drained or ctx is done, delivering
// results to sink. On cancellation all match state is discarded and the
// context error is returned.
func (s *Session) Run(ctx context.Context, q *Queue, sink Sink) error {
	opsf("match %s: session started", s.id)
	for {
		in, err := q.Next(ctx)
		if errors.Is(err, ErrQueueClosed) {
			final := s.Finish()
			for _, ev := range final {
				if err := sink.OnEvent(ctx, s.id, ev); err != nil {
					return fmt.Errorf("deliver event: %w", err)
				}
			}
			opsf("match %s: session finished at frame %d", s.id, s.lastFrame)
			return nil
		}
		if err != nil {
			s.Discard()
			opsf("match %s: session cancelled: %v", s.id, err)
			return err
		}

		res, err := s.ProcessFrame(in)
		if err != nil {
			diagf("match %s: %v", s.id, err)
			continue
		}
		if err := sink.OnFrame(ctx, res); err != nil {
			return fmt.Errorf("deliver frame %d: %w", res.Frame, err)
		}
		for _, ev := range res.Events {
			if err := sink.OnEvent(ctx, s.id, ev); err != nil {
				return fmt.Errorf("deliver event: %w", err)
			}
		}
	}
}
