package tracks

import (
	"fmt"
	"math"
	"time"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/motion"
)

// Box is an axis-aligned pixel bounding box.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is one raw candidate observation in a frame. Frame index and
// timestamp belong to the batch passed to Manager.Update.
type Detection struct {
	Class      Class        `json:"class"`
	Confidence float64      `json:"confidence"`
	Box        *Box         `json:"box,omitempty"`
	Point      *court.Point `json:"point,omitempty"`
}

// Center returns the pixel position used for association. A point wins over
// a box. Player boxes yield the bottom-centre (the foot point, which lies on
// the court plane); ball boxes yield the box centre.
func (d Detection) Center() (court.Point, bool) {
	var p court.Point
	switch {
	case d.Point != nil:
		p = *d.Point
	case d.Box != nil:
		p.X = (d.Box.X1 + d.Box.X2) / 2
		if d.Class == Player {
			p.Y = math.Max(d.Box.Y1, d.Box.Y2)
		} else {
			p.Y = (d.Box.Y1 + d.Box.Y2) / 2
		}
	default:
		return court.Point{}, false
	}
	if !finite(p.X) || !finite(p.Y) {
		return court.Point{}, false
	}
	return p, true
}

// Status is the lifecycle state of a track.
type Status int

const (
	StatusTentative Status = iota
	StatusConfirmed
	StatusLost
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusTentative:
		return "tentative"
	case StatusConfirmed:
		return "confirmed"
	case StatusLost:
		return "lost"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{StatusTentative, StatusConfirmed, StatusLost, StatusDeleted} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown track status %q", b)
}

// Sample is one measured point of a track's trajectory.
type Sample struct {
	Frame     int64         `json:"frame"`
	Timestamp time.Duration `json:"timestamp"`
	Pixel     court.Point   `json:"pixel"`
	Court     court.Point   `json:"court"`
	HasCourt  bool          `json:"has_court"`
	Velocity  court.Point   `json:"velocity"` // pixels per second, filtered
}

// TrackView is an immutable copy of a track's externally visible state.
type TrackView struct {
	ID         int64       `json:"id"`
	Class      Class       `json:"class"`
	Status     Status      `json:"status"`
	Pixel      court.Point `json:"pixel"`
	Court      court.Point `json:"court"`
	HasCourt   bool        `json:"has_court"`
	Velocity   court.Point `json:"velocity"`
	Hits       int         `json:"hits"`
	Misses     int         `json:"misses"`
	Age        int         `json:"age"`
	FirstFrame int64       `json:"first_frame"`
	LastFrame  int64       `json:"last_frame"`
}

// Snapshot is the per-frame view of every tentative and confirmed track,
// sorted by ID.
type Snapshot struct {
	Frame     int64         `json:"frame"`
	Timestamp time.Duration `json:"timestamp"`
	Tracks    []TrackView   `json:"tracks"`
}

// Find returns the view of track id.
func (s Snapshot) Find(id int64) (TrackView, bool) {
	for _, tv := range s.Tracks {
		if tv.ID == id {
			return tv, true
		}
	}
	return TrackView{}, false
}

// track is the manager-owned mutable state of one object.
type track struct {
	id     int64
	class  Class
	status Status

	hits   int // consecutive matched frames
	misses int // consecutive unmatched frames
	age    int // frames since creation

	firstFrame int64
	lastFrame  int64 // last matched frame

	est     *motion.Estimator
	history *Ring[Sample]
}

func (t *track) view(proj Projector) TrackView {
	x, y := t.est.Position()
	vx, vy := t.est.Velocity()
	tv := TrackView{
		ID:         t.id,
		Class:      t.class,
		Status:     t.status,
		Pixel:      court.Point{X: x, Y: y},
		Velocity:   court.Point{X: vx, Y: vy},
		Hits:       t.hits,
		Misses:     t.misses,
		Age:        t.age,
		FirstFrame: t.firstFrame,
		LastFrame:  t.lastFrame,
	}
	if proj != nil {
		tv.Court, tv.HasCourt = proj.Project(tv.Pixel)
	}
	return tv
}

// older reports whether t should win a tie against o.
func (t *track) older(o *track) bool {
	if t.firstFrame != o.firstFrame {
		return t.firstFrame < o.firstFrame
	}
	return t.id < o.id
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
