// Package court holds tennis court geometry and the pixel to court calibration
// model. Court coordinates are metres with the origin at the far-left doubles
// corner, X across the court and Y along it towards the near baseline.
package court

import (
	"fmt"
	"strings"
)

// Official court dimensions in metres.
const (
	Length               = 23.77
	SinglesWidth         = 8.23
	DoublesWidth         = 10.97
	AlleyWidth           = (DoublesWidth - SinglesWidth) / 2 // 1.37
	BaselineToService    = 5.485
	ServiceBoxWidth      = 4.115
	NetY                 = Length / 2
	CentreX              = DoublesWidth / 2
	farServiceLineY      = BaselineToService
	nearServiceLineY     = Length - BaselineToService
	singlesLeftSideline  = AlleyWidth
	singlesRightSideline = DoublesWidth - AlleyWidth
)

// Point is a 2D point, in pixels or metres depending on context.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size selects which sidelines bound the playing area.
type Size int

const (
	Singles Size = iota
	Doubles
)

func (s Size) String() string {
	if s == Doubles {
		return "doubles"
	}
	return "singles"
}

// ParseSize parses "singles" or "doubles".
func ParseSize(s string) (Size, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "singles", "":
		return Singles, nil
	case "doubles":
		return Doubles, nil
	default:
		return Singles, fmt.Errorf("unknown court size %q", s)
	}
}

// Region names a part of the court surface.
type Region string

const (
	RegionOut              Region = "out"
	RegionBackcourtFar     Region = "backcourt_far"
	RegionBackcourtNear    Region = "backcourt_near"
	RegionServiceFarLeft   Region = "service_far_left"
	RegionServiceFarRight  Region = "service_far_right"
	RegionServiceNearLeft  Region = "service_near_left"
	RegionServiceNearRight Region = "service_near_right"
	RegionAlley            Region = "alley"
)

// Court describes the playing area for one match.
type Court struct {
	Size Size
}

// Bounds returns the playing area as min/max corners.
func (c Court) Bounds() (minX, minY, maxX, maxY float64) {
	if c.Size == Doubles {
		return 0, 0, DoublesWidth, Length
	}
	return singlesLeftSideline, 0, singlesRightSideline, Length
}

// Contains reports whether p lies inside the playing area grown by margin.
// Lines are part of the court.
func (c Court) Contains(p Point, margin float64) bool {
	minX, minY, maxX, maxY := c.Bounds()
	return p.X >= minX-margin && p.X <= maxX+margin &&
		p.Y >= minY-margin && p.Y <= maxY+margin
}

// Region classifies a court position. Left and right are as seen from the
// near baseline.
func (c Court) Region(p Point) Region {
	if !c.Contains(p, 0) {
		return RegionOut
	}
	if p.X < singlesLeftSideline || p.X > singlesRightSideline {
		return RegionAlley
	}
	switch {
	case p.Y < farServiceLineY:
		return RegionBackcourtFar
	case p.Y > nearServiceLineY:
		return RegionBackcourtNear
	case p.Y < NetY:
		if p.X < CentreX {
			return RegionServiceFarLeft
		}
		return RegionServiceFarRight
	default:
		if p.X < CentreX {
			return RegionServiceNearLeft
		}
		return RegionServiceNearRight
	}
}

// Keypoint is a named line intersection with known court coordinates.
type Keypoint struct {
	Name  string
	Court Point
}

var canonicalKeypoints = []Keypoint{
	{"far_baseline_doubles_left", Point{0, 0}},
	{"far_baseline_doubles_right", Point{DoublesWidth, 0}},
	{"near_baseline_doubles_left", Point{0, Length}},
	{"near_baseline_doubles_right", Point{DoublesWidth, Length}},
	{"far_baseline_singles_left", Point{singlesLeftSideline, 0}},
	{"near_baseline_singles_left", Point{singlesLeftSideline, Length}},
	{"far_baseline_singles_right", Point{singlesRightSideline, 0}},
	{"near_baseline_singles_right", Point{singlesRightSideline, Length}},
	{"far_service_left", Point{singlesLeftSideline, farServiceLineY}},
	{"far_service_right", Point{singlesRightSideline, farServiceLineY}},
	{"near_service_left", Point{singlesLeftSideline, nearServiceLineY}},
	{"near_service_right", Point{singlesRightSideline, nearServiceLineY}},
	{"far_service_t", Point{CentreX, farServiceLineY}},
	{"near_service_t", Point{CentreX, nearServiceLineY}},
}

// CanonicalKeypoints returns the 14 reference intersections in the order a
// court keypoint detector reports them.
func CanonicalKeypoints() []Keypoint {
	return append([]Keypoint(nil), canonicalKeypoints...)
}

// KeypointByName looks up a canonical keypoint.
func KeypointByName(name string) (Keypoint, bool) {
	for _, kp := range canonicalKeypoints {
		if kp.Name == name {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// Segment is a straight painted line between two court points.
type Segment struct {
	From, To Point
}

// Lines returns the painted lines of a full (doubles) court plus the net.
func Lines() []Segment {
	return []Segment{
		{Point{0, 0}, Point{DoublesWidth, 0}},
		{Point{0, Length}, Point{DoublesWidth, Length}},
		{Point{0, 0}, Point{0, Length}},
		{Point{DoublesWidth, 0}, Point{DoublesWidth, Length}},
		{Point{singlesLeftSideline, 0}, Point{singlesLeftSideline, Length}},
		{Point{singlesRightSideline, 0}, Point{singlesRightSideline, Length}},
		{Point{singlesLeftSideline, farServiceLineY}, Point{singlesRightSideline, farServiceLineY}},
		{Point{singlesLeftSideline, nearServiceLineY}, Point{singlesRightSideline, nearServiceLineY}},
		{Point{CentreX, farServiceLineY}, Point{CentreX, nearServiceLineY}},
		{Point{0, NetY}, Point{DoublesWidth, NetY}},
	}
}
