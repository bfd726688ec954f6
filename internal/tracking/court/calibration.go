package court

import (
	"errors"
	"fmt"

	"github.com/tarcisiobannwart/tennis-tracking/internal/config"
)

// ErrCalibrationRejected is wrapped by every *RejectedError. Rejection is
// non-fatal: the previous calibration stays active.
var ErrCalibrationRejected = errors.New("calibration rejected")

// RejectedError describes why a calibration attempt was not accepted.
type RejectedError struct {
	Frame    int64
	Points   int
	Residual float64
	Reason   string
	Err      error // underlying fit error, if any
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("calibration rejected at frame %d (%d points): %s: %v", e.Frame, e.Points, e.Reason, e.Err)
	}
	return fmt.Sprintf("calibration rejected at frame %d (%d points): %s", e.Frame, e.Points, e.Reason)
}

// Unwrap exposes both ErrCalibrationRejected and the fit error to errors.Is.
func (e *RejectedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCalibrationRejected, e.Err}
	}
	return []error{ErrCalibrationRejected}
}

// Config holds calibration acceptance and refresh policy.
type Config struct {
	MinPoints             int     // correspondences required for a fit (>= 4)
	MaxResidual           float64 // metres
	RecalibrationInterval int64   // frames between refits once calibrated
	SmoothingAlpha        float64 // weight of the previous transform in [0, 1); 0 disables
}

// DefaultConfig returns calibration configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MinPoints:             cfg.GetCalibrationMinPoints(),
		MaxResidual:           cfg.GetCalibrationMaxResidual(),
		RecalibrationInterval: cfg.GetRecalibrationInterval(),
		SmoothingAlpha:        cfg.GetCalibrationSmoothing(),
	}
}

// Calibration is an accepted pixel to court mapping.
type Calibration struct {
	Transform Transform
	Points    []Correspondence
	Residual  float64
	Frame     int64
}

// Status summarises the calibration state for callers and diagnostics.
type Status struct {
	Valid            bool    `json:"valid"`
	Residual         float64 `json:"residual_error"`
	Rejected         bool    `json:"rejected"`
	Reason           string  `json:"reason,omitempty"`
	Age              int64   `json:"age_frames"`
	LastAttemptFrame int64   `json:"last_attempt_frame"`
	AcceptedFrame    int64   `json:"accepted_frame"`
}

// Model maintains the active calibration for one match. Once a calibration
// is accepted it is never dropped except by Invalidate. It is not safe for
// concurrent use.
type Model struct {
	cfg Config

	current *Calibration

	attempted   bool
	lastAttempt int64
	rejected    bool
	reason      string

	seen       bool
	firstFrame int64
	lastFrame  int64
}

// NewModel creates an uncalibrated model.
func NewModel(cfg Config) *Model {
	if cfg.MinPoints < 4 {
		cfg.MinPoints = 4
	}
	return &Model{cfg: cfg}
}

func (m *Model) observe(frame int64) {
	if !m.seen {
		m.seen = true
		m.firstFrame = frame
	}
	if frame > m.lastFrame {
		m.lastFrame = frame
	}
}

// Calibrate offers reference points seen at frame. While a calibration is
// active a refit only happens every RecalibrationInterval frames; otherwise
// every non-empty offer is tried. A rejected fit returns a *RejectedError
// and the previous calibration keeps serving projections.
func (m *Model) Calibrate(frame int64, points []Correspondence) (Status, error) {
	m.observe(frame)
	if len(points) == 0 {
		return m.Status(), nil
	}
	if m.current != nil && m.attempted && frame-m.lastAttempt < m.cfg.RecalibrationInterval {
		tracef("frame %d: refit not due until frame %d", frame, m.lastAttempt+m.cfg.RecalibrationInterval)
		return m.Status(), nil
	}
	m.attempted = true
	m.lastAttempt = frame

	if len(points) < m.cfg.MinPoints {
		return m.reject(&RejectedError{
			Frame:  frame,
			Points: len(points),
			Reason: fmt.Sprintf("need at least %d points", m.cfg.MinPoints),
			Err:    ErrTooFewPoints,
		})
	}

	t, residual, err := Fit(points)
	if err != nil {
		return m.reject(&RejectedError{Frame: frame, Points: len(points), Reason: "fit failed", Err: err})
	}
	if residual > m.cfg.MaxResidual {
		return m.reject(&RejectedError{
			Frame:    frame,
			Points:   len(points),
			Residual: residual,
			Reason:   fmt.Sprintf("residual %.3fm exceeds %.3fm", residual, m.cfg.MaxResidual),
		})
	}

	if m.current != nil && m.cfg.SmoothingAlpha > 0 {
		if blended, ok := blend(m.current.Transform, t, m.cfg.SmoothingAlpha); ok {
			r, err := Residual(blended, points)
			switch {
			case err != nil:
			case r > m.cfg.MaxResidual:
				diagf("frame %d: smoothed residual %.3fm exceeds %.3fm, using unsmoothed fit", frame, r, m.cfg.MaxResidual)
			default:
				t, residual = blended, r
			}
		}
	}

	m.current = &Calibration{
		Transform: t,
		Points:    append([]Correspondence(nil), points...),
		Residual:  residual,
		Frame:     frame,
	}
	m.rejected = false
	m.reason = ""
	diagf("calibration accepted at frame %d: %d points, residual %.4fm", frame, len(points), residual)
	return m.Status(), nil
}

func (m *Model) reject(err *RejectedError) (Status, error) {
	m.rejected = true
	m.reason = err.Reason
	if m.current != nil {
		opsf("%v; keeping calibration from frame %d", err, m.current.Frame)
	} else {
		opsf("%v; no calibration available", err)
	}
	return m.Status(), err
}

// blend mixes two transforms element-wise on their normalised matrices.
func blend(prev, next Transform, alpha float64) (Transform, bool) {
	a, b := prev.Matrix(), next.Matrix()
	var h [9]float64
	for i := range h {
		h[i] = alpha*a[i] + (1-alpha)*b[i]
	}
	t, err := NewTransform(h)
	return t, err == nil
}

// Project maps a pixel to court metres with the active calibration.
func (m *Model) Project(pixel Point) (Point, bool) {
	if m.current == nil {
		return Point{}, false
	}
	return m.current.Transform.Apply(pixel)
}

// Unproject maps court metres back to a pixel with the active calibration.
func (m *Model) Unproject(court Point) (Point, bool) {
	if m.current == nil {
		return Point{}, false
	}
	return m.current.Transform.Inverse(court)
}

// Valid reports whether a calibration is active.
func (m *Model) Valid() bool { return m.current != nil }

// Current returns a copy of the active calibration.
func (m *Model) Current() (Calibration, bool) {
	if m.current == nil {
		return Calibration{}, false
	}
	c := *m.current
	c.Points = append([]Correspondence(nil), c.Points...)
	return c, true
}

// Invalidate drops the active calibration. The next offer of reference
// points is fitted regardless of the refresh interval.
func (m *Model) Invalidate() {
	if m.current != nil {
		diagf("calibration from frame %d invalidated", m.current.Frame)
	}
	m.current = nil
	m.attempted = false
	m.rejected = false
	m.reason = ""
}

// Status reports the current calibration state. Age counts frames since the
// active calibration was accepted, or since the first frame seen when none is
// active, so callers can detect a persistent absence of calibration.
func (m *Model) Status() Status {
	s := Status{
		Rejected:         m.rejected,
		Reason:           m.reason,
		LastAttemptFrame: m.lastAttempt,
	}
	if m.current != nil {
		s.Valid = true
		s.Residual = m.current.Residual
		s.AcceptedFrame = m.current.Frame
		s.Age = m.lastFrame - m.current.Frame
	} else if m.seen {
		s.Age = m.lastFrame - m.firstFrame
	}
	return s
}
