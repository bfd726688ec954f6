// Package monitor renders diagnostics for a tracked match: speed statistics,
// a court-space PNG of the ball path and an HTML speed chart.
package monitor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/tracks"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/trajectory"
	"github.com/tarcisiobannwart/tennis-tracking/internal/units"
)

// Summary aggregates the ball speed and the events of one match.
type Summary struct {
	Samples     int
	Space       trajectory.Space
	MeanSpeed   float64
	StdDevSpeed float64
	MedianSpeed float64
	P95Speed    float64
	MaxSpeed    float64
	Events      map[trajectory.EventType]int
}

// Speeds returns the finite-difference speed between consecutive samples.
// Court metres are used when every sample carries a court position, pixels
// otherwise. Pairs with a non-positive time step are skipped.
func Speeds(samples []tracks.Sample) ([]float64, trajectory.Space) {
	_, speeds, space := speedSeries(samples)
	return speeds, space
}

// speedSeries is Speeds plus the frame each speed was measured at.
func speedSeries(samples []tracks.Sample) ([]int64, []float64, trajectory.Space) {
	space := trajectory.SpaceCourt
	for _, s := range samples {
		if !s.HasCourt {
			space = trajectory.SpacePixel
			break
		}
	}
	if len(samples) < 2 {
		return nil, nil, space
	}
	frames := make([]int64, 0, len(samples)-1)
	speeds := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		dt := (cur.Timestamp - prev.Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		a, b := prev.Pixel, cur.Pixel
		if space == trajectory.SpaceCourt {
			a, b = prev.Court, cur.Court
		}
		frames = append(frames, cur.Frame)
		speeds = append(speeds, math.Hypot(b.X-a.X, b.Y-a.Y)/dt)
	}
	return frames, speeds, space
}

// Summarize computes speed statistics over samples and counts events by type.
func Summarize(samples []tracks.Sample, events []trajectory.Event) Summary {
	speeds, space := Speeds(samples)
	s := Summary{
		Samples: len(samples),
		Space:   space,
		Events:  make(map[trajectory.EventType]int),
	}
	for _, ev := range events {
		s.Events[ev.Type]++
	}
	if len(speeds) == 0 {
		return s
	}

	s.MeanSpeed = stat.Mean(speeds, nil)
	if len(speeds) > 1 {
		s.StdDevSpeed = stat.StdDev(speeds, nil)
	}
	sorted := append([]float64(nil), speeds...)
	sort.Float64s(sorted)
	s.MedianSpeed = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P95Speed = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	s.MaxSpeed = floats.Max(speeds)
	return s
}

// Format renders the summary on one line. Court speeds are shown in unit,
// pixel speeds in px/s.
func (s Summary) Format(unit string) string {
	speed := func(v float64) string {
		if s.Space == trajectory.SpaceCourt {
			return units.FormatSpeed(v, unit)
		}
		return fmt.Sprintf("%.0f px/s", v)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "samples=%d mean=%s sd=%s p50=%s p95=%s max=%s",
		s.Samples, speed(s.MeanSpeed), speed(s.StdDevSpeed), speed(s.MedianSpeed),
		speed(s.P95Speed), speed(s.MaxSpeed))
	for _, typ := range []trajectory.EventType{trajectory.EventBounce, trajectory.EventOutOfBounds, trajectory.EventAnomaly} {
		fmt.Fprintf(&b, " %s=%d", typ, s.Events[typ])
	}
	return b.String()
}
