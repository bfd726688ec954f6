package trajectory

import (
	"fmt"
	"time"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
)

// EventType classifies an emitted Event.
type EventType int

const (
	EventBounce EventType = iota
	EventOutOfBounds
	EventAnomaly
)

func (t EventType) String() string {
	switch t {
	case EventBounce:
		return "bounce"
	case EventOutOfBounds:
		return "out_of_bounds"
	case EventAnomaly:
		return "anomaly"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(b []byte) error {
	v, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseEventType parses the String form of an EventType.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "bounce":
		return EventBounce, nil
	case "out_of_bounds":
		return EventOutOfBounds, nil
	case "anomaly":
		return EventAnomaly, nil
	default:
		return EventBounce, fmt.Errorf("unknown event type %q", s)
	}
}

// Event is a validated physical event on a ball trajectory.
type Event struct {
	Type        EventType     `json:"type"`
	TrackID     int64         `json:"track_id"`
	Frame       int64         `json:"frame"`
	Timestamp   time.Duration `json:"timestamp"`
	Position    court.Point   `json:"position"` // metres, valid when HasPosition
	HasPosition bool          `json:"has_position"`
	Pixel       court.Point   `json:"pixel"`
	Confidence  float64       `json:"confidence"`
	Reason      string        `json:"reason,omitempty"`
}

// Space names the coordinate space a speed was measured in.
type Space string

const (
	SpaceCourt Space = "court" // metres
	SpacePixel Space = "pixel"
)
