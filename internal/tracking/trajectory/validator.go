// Package trajectory validates the ball's measured samples against physical
// limits and turns scored candidates into bounce events.
package trajectory

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tarcisiobannwart/tennis-tracking/internal/config"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/tracks"
)

var (
	// ErrPhysicallyImplausible marks a sample whose implied speed or
	// acceleration exceeds the configured ceiling. The sample is kept in the
	// raw history and excluded from feature extraction.
	ErrPhysicallyImplausible = errors.New("physically implausible sample")
	// ErrNonMonotonic marks a sample whose timestamp does not advance.
	ErrNonMonotonic = errors.New("non-monotonic sample timestamp")
)

// Config holds validator limits and event policy.
type Config struct {
	MaxSpeed      float64 // m/s, used when both samples have court positions
	MaxAccel      float64 // m/s²
	MaxPixelSpeed float64 // px/s, used without calibration
	MaxPixelAccel float64 // px/s²

	BounceThreshold  float64 // minimum scorer probability for a candidate
	SignChangeWindow int     // samples either side of a candidate searched for a reversal
	Cooldown         int64   // frames over which confirmed candidates collapse
	LagFeatures      int
	AnomalyRun       int // consecutive outliers that raise an anomaly event
	HistoryLength    int

	Court       court.Court
	CourtMargin float64 // metres
}

// DefaultConfig returns validator configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	size, err := court.ParseSize(cfg.GetCourtSize())
	if err != nil {
		opsf("court size: %v, using %s", err, size)
	}
	return Config{
		MaxSpeed:         cfg.GetMaxBallSpeed(),
		MaxAccel:         cfg.GetMaxBallAccel(),
		MaxPixelSpeed:    cfg.GetMaxPixelSpeed(),
		MaxPixelAccel:    cfg.GetMaxPixelAccel(),
		BounceThreshold:  cfg.GetBounceThreshold(),
		SignChangeWindow: cfg.GetSignChangeWindow(),
		Cooldown:         cfg.GetBounceCooldown(),
		LagFeatures:      cfg.GetLagFeatures(),
		AnomalyRun:       cfg.GetAnomalyRun(),
		HistoryLength:    cfg.GetHistoryLength(),
		Court:            court.Court{Size: size},
		CourtMargin:      cfg.GetCourtMargin(),
	}
}

// ValidatedSample is a track sample annotated with its kinematics and the
// outcome of the plausibility check.
type ValidatedSample struct {
	tracks.Sample

	Seq         int64   `json:"seq"` // position among accepted samples, -1 for outliers
	Space       Space   `json:"space"`
	Speed       float64 `json:"speed"` // Space units per second
	Accel       float64 `json:"accel"`
	PixelSpeed  float64 `json:"pixel_speed"`
	VerticalVel float64 `json:"vertical_vel"` // px/s, positive down the image
	DirChange   bool    `json:"dir_change"`
	Score       float64 `json:"score"`
	Outlier     bool    `json:"outlier"`
	Reason      string  `json:"reason,omitempty"`

	vel    court.Point // in Space units
	hasVel bool
}

type candidate struct {
	sample     ValidatedSample
	confidence float64
}

type cluster struct {
	start int64 // frame of the first confirmed candidate
	best  candidate
}

// Validator consumes the samples of one ball track in time order.
// It is not safe for concurrent use.
type Validator struct {
	cfg    Config
	scorer Scorer

	trackID int64
	raw     *tracks.Ring[ValidatedSample] // every sample, outliers included
	window  *tracks.Ring[ValidatedSample] // accepted samples for features

	seq        int64
	lastTs     time.Duration
	hasLast    bool
	lastVSign  int
	outlierRun int

	pending []candidate
	cluster *cluster
}

// NewValidator creates a validator that scores accepted samples with scorer.
func NewValidator(cfg Config, scorer Scorer) *Validator {
	w := cfg.LagFeatures + 2*cfg.SignChangeWindow + 2
	return &Validator{
		cfg:    cfg,
		scorer: scorer,
		raw:    tracks.NewRing[ValidatedSample](cfg.HistoryLength),
		window: tracks.NewRing[ValidatedSample](w),
	}
}

// Bind resets the validator for a new ball track.
func (v *Validator) Bind(trackID int64) {
	v.Reset()
	v.trackID = trackID
}

// TrackID returns the bound track.
func (v *Validator) TrackID() int64 { return v.trackID }

// Reset discards all samples and unresolved candidates.
func (v *Validator) Reset() {
	v.raw.Reset()
	v.window.Reset()
	v.seq = 0
	v.lastTs = 0
	v.hasLast = false
	v.lastVSign = 0
	v.outlierRun = 0
	v.pending = nil
	v.cluster = nil
}

// History returns every pushed sample, outliers included, oldest first.
func (v *Validator) History() []ValidatedSample { return v.raw.Slice() }

// Accepted returns the samples in History that passed validation.
func (v *Validator) Accepted() []ValidatedSample {
	var out []ValidatedSample
	for _, s := range v.raw.Slice() {
		if !s.Outlier {
			out = append(out, s)
		}
	}
	return out
}

// Push validates one sample and returns any events that became final.
// The returned error is non-fatal: ErrNonMonotonic (sample ignored),
// ErrPhysicallyImplausible (sample kept as outlier) or a scorer failure
// (sample accepted without a candidate).
func (v *Validator) Push(s tracks.Sample) ([]Event, error) {
	if v.hasLast && s.Timestamp <= v.lastTs {
		return nil, fmt.Errorf("%w: frame %d at %v, previous %v", ErrNonMonotonic, s.Frame, s.Timestamp, v.lastTs)
	}
	v.hasLast = true
	v.lastTs = s.Timestamp

	vs := ValidatedSample{Sample: s, Seq: -1, Space: SpacePixel}
	if s.HasCourt {
		vs.Space = SpaceCourt
	}
	if prev, ok := v.window.Last(); ok {
		kinematics(&vs, prev)
	}

	if reason := v.implausible(vs); reason != "" {
		return v.rejectOutlier(vs, reason)
	}
	v.outlierRun = 0

	vs.Seq = v.seq
	v.seq++
	if vs.hasVel {
		sign := signOf(vs.VerticalVel)
		if sign != 0 {
			vs.DirChange = v.lastVSign != 0 && sign != v.lastVSign
			v.lastVSign = sign
		}
	}

	var scoreErr error
	p, err := v.scorer.Score(buildFeatures(vs, v.window.Slice(), v.cfg.LagFeatures))
	switch {
	case err != nil:
		scoreErr = fmt.Errorf("score frame %d: %w", s.Frame, err)
		p = 0
	case math.IsNaN(p):
		p = 0
	default:
		p = math.Max(0, math.Min(1, p))
	}
	vs.Score = p

	v.window.Push(vs)
	v.raw.Push(vs)
	if scoreErr == nil && p >= v.cfg.BounceThreshold {
		v.pending = append(v.pending, candidate{sample: vs, confidence: p})
		tracef("track %d frame %d: bounce candidate p=%.3f", v.trackID, s.Frame, p)
	}

	events := v.resolve(false)
	events = append(events, v.emitDue(s.Frame)...)
	return events, scoreErr
}

// Flush resolves pending candidates with the samples seen so far and emits
// any collapsed bounce. Call it at the end of a track or stream.
func (v *Validator) Flush() []Event {
	events := v.resolve(true)
	if v.cluster != nil {
		events = append(events, v.emitCluster()...)
	}
	return events
}

func (v *Validator) rejectOutlier(vs ValidatedSample, reason string) ([]Event, error) {
	vs.Outlier = true
	vs.Reason = reason
	v.raw.Push(vs)
	v.outlierRun++
	diagf("track %d frame %d: outlier: %s", v.trackID, vs.Frame, reason)

	var events []Event
	if v.cfg.AnomalyRun > 0 && v.outlierRun >= v.cfg.AnomalyRun {
		events = append(events, v.resolve(true)...)
		events = append(events, Event{
			Type:        EventAnomaly,
			TrackID:     v.trackID,
			Frame:       vs.Frame,
			Timestamp:   vs.Timestamp,
			Position:    vs.Court,
			HasPosition: vs.HasCourt,
			Pixel:       vs.Pixel,
			Confidence:  1,
			Reason:      fmt.Sprintf("%d consecutive outliers: %s", v.outlierRun, reason),
		})
		opsf("track %d frame %d: %d consecutive outliers, re-anchoring", v.trackID, vs.Frame, v.outlierRun)
		// The next sample starts a fresh window.
		v.window.Reset()
		v.lastVSign = 0
		v.outlierRun = 0
	}
	return events, fmt.Errorf("%w: frame %d: %s", ErrPhysicallyImplausible, vs.Frame, reason)
}

// kinematics fills speed, acceleration and vertical velocity of vs relative
// to the previous accepted sample.
func kinematics(vs *ValidatedSample, prev ValidatedSample) {
	dt := (vs.Timestamp - prev.Timestamp).Seconds()
	if !(dt > 0) {
		return
	}
	pvx := (vs.Pixel.X - prev.Pixel.X) / dt
	pvy := (vs.Pixel.Y - prev.Pixel.Y) / dt
	vs.PixelSpeed = math.Hypot(pvx, pvy)
	vs.VerticalVel = pvy

	if vs.HasCourt && prev.HasCourt {
		vs.Space = SpaceCourt
		vs.vel = court.Point{X: (vs.Court.X - prev.Court.X) / dt, Y: (vs.Court.Y - prev.Court.Y) / dt}
	} else {
		vs.Space = SpacePixel
		vs.vel = court.Point{X: pvx, Y: pvy}
	}
	vs.Speed = math.Hypot(vs.vel.X, vs.vel.Y)
	vs.hasVel = true

	if prev.hasVel && prev.Space == vs.Space {
		vs.Accel = math.Hypot(vs.vel.X-prev.vel.X, vs.vel.Y-prev.vel.Y) / dt
	}
}

// implausible returns the reason vs violates a ceiling, or "".
func (v *Validator) implausible(vs ValidatedSample) string {
	if !vs.hasVel {
		return ""
	}
	if math.IsNaN(vs.Speed) || math.IsInf(vs.Speed, 0) || math.IsNaN(vs.Accel) || math.IsInf(vs.Accel, 0) {
		return "non-finite kinematics"
	}
	maxSpeed, maxAccel, unit := v.cfg.MaxPixelSpeed, v.cfg.MaxPixelAccel, "px"
	if vs.Space == SpaceCourt {
		maxSpeed, maxAccel, unit = v.cfg.MaxSpeed, v.cfg.MaxAccel, "m"
	}
	if maxSpeed > 0 && vs.Speed > maxSpeed {
		return fmt.Sprintf("speed %.1f %s/s exceeds %.1f", vs.Speed, unit, maxSpeed)
	}
	if maxAccel > 0 && vs.Accel > maxAccel {
		return fmt.Sprintf("acceleration %.1f %s/s² exceeds %.1f", vs.Accel, unit, maxAccel)
	}
	return ""
}

// resolve confirms candidates that have a vertical reversal within
// SignChangeWindow accepted samples and drops those whose window has passed.
// With final set, candidates are decided on the samples available.
func (v *Validator) resolve(final bool) []Event {
	var events []Event
	w := int64(v.cfg.SignChangeWindow)
	var keep []candidate
	for _, c := range v.pending {
		lo, hi := c.sample.Seq-w, c.sample.Seq+w
		if v.reversalIn(lo, hi) {
			events = append(events, v.confirm(c)...)
			continue
		}
		if final || v.seq-1 >= hi {
			tracef("track %d frame %d: candidate dropped, no vertical reversal", v.trackID, c.sample.Frame)
			continue
		}
		keep = append(keep, c)
	}
	v.pending = keep
	return events
}

func (v *Validator) reversalIn(lo, hi int64) bool {
	for i := 0; i < v.window.Len(); i++ {
		s := v.window.At(i)
		if s.Seq >= lo && s.Seq <= hi && s.DirChange {
			return true
		}
	}
	return false
}

// confirm adds c to the open cluster, closing the cluster first when c falls
// outside its cooldown.
func (v *Validator) confirm(c candidate) []Event {
	var events []Event
	if v.cluster != nil && c.sample.Frame-v.cluster.start > v.cfg.Cooldown {
		events = v.emitCluster()
	}
	if v.cluster == nil {
		v.cluster = &cluster{start: c.sample.Frame, best: c}
		return events
	}
	if c.confidence > v.cluster.best.confidence {
		v.cluster.best = c
	}
	return events
}

// emitDue emits the open cluster once frame is past its cooldown and no
// pending candidate could still join it.
func (v *Validator) emitDue(frame int64) []Event {
	if v.cluster == nil || frame-v.cluster.start <= v.cfg.Cooldown {
		return nil
	}
	end := v.cluster.start + v.cfg.Cooldown
	for _, c := range v.pending {
		if c.sample.Frame <= end {
			return nil
		}
	}
	return v.emitCluster()
}

func (v *Validator) emitCluster() []Event {
	best := v.cluster.best
	v.cluster = nil
	s := best.sample
	bounce := Event{
		Type:        EventBounce,
		TrackID:     v.trackID,
		Frame:       s.Frame,
		Timestamp:   s.Timestamp,
		Position:    s.Court,
		HasPosition: s.HasCourt,
		Pixel:       s.Pixel,
		Confidence:  best.confidence,
	}
	diagf("track %d frame %d: bounce p=%.3f", v.trackID, s.Frame, best.confidence)
	events := []Event{bounce}
	if s.HasCourt && !v.cfg.Court.Contains(s.Court, v.cfg.CourtMargin) {
		out := bounce
		out.Type = EventOutOfBounds
		out.Reason = string(v.cfg.Court.Region(s.Court))
		events = append(events, out)
	}
	return events
}

func signOf(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
