package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/tracks"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/trajectory"
)

// MatchSummary describes one stored match.
type MatchSummary struct {
	ID         string
	FirstFrame int64
	LastFrame  int64
	Frames     int64
	Events     int64
}

// CalibrationRecord is one calibration attempt.
type CalibrationRecord struct {
	Frame    int64
	Accepted bool
	Residual float64
	Reason   string
}

// BallSample is a stored position of the confirmed ball track.
type BallSample struct {
	TrackID int64
	tracks.Sample
}

// Matches lists stored matches ordered by creation time.
func (s *Store) Matches(ctx context.Context) ([]MatchSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.match_id, m.first_frame, m.last_frame, m.frames,
			(SELECT COUNT(*) FROM events e WHERE e.match_id = m.match_id)
		FROM matches m
		ORDER BY m.created_at, m.match_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var out []MatchSummary
	for rows.Next() {
		var m MatchSummary
		if err := rows.Scan(&m.ID, &m.FirstFrame, &m.LastFrame, &m.Frames, &m.Events); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Events returns the events of a match in frame order. An empty eventType
// selects every type.
func (s *Store) Events(ctx context.Context, match string, eventType string) ([]trajectory.Event, error) {
	query := `
		SELECT event_type, track_id, frame, ts_nanos, court_x, court_y,
			pixel_x, pixel_y, confidence, reason
		FROM events
		WHERE match_id = ?`
	args := []interface{}{match}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY frame, event_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []trajectory.Event
	for rows.Next() {
		var (
			ev     trajectory.Event
			typ    string
			ts     int64
			cx, cy sql.NullFloat64
		)
		if err := rows.Scan(&typ, &ev.TrackID, &ev.Frame, &ts, &cx, &cy,
			&ev.Pixel.X, &ev.Pixel.Y, &ev.Confidence, &ev.Reason); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Type, err = trajectory.ParseEventType(typ); err != nil {
			return nil, err
		}
		ev.Timestamp = time.Duration(ts)
		ev.Position, ev.HasPosition = pointFromNull(cx, cy)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Calibrations returns every calibration attempt of a match in frame order.
func (s *Store) Calibrations(ctx context.Context, match string) ([]CalibrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame, accepted, residual, reason
		FROM calibrations
		WHERE match_id = ?
		ORDER BY frame, calibration_id
	`, match)
	if err != nil {
		return nil, fmt.Errorf("query calibrations: %w", err)
	}
	defer rows.Close()

	var out []CalibrationRecord
	for rows.Next() {
		var r CalibrationRecord
		if err := rows.Scan(&r.Frame, &r.Accepted, &r.Residual, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan calibration: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BallPath returns the stored ball samples of a match in frame order.
func (s *Store) BallPath(ctx context.Context, match string) ([]BallSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame, ts_nanos, track_id, pixel_x, pixel_y, court_x, court_y,
			velocity_x, velocity_y
		FROM ball_samples
		WHERE match_id = ?
		ORDER BY frame
	`, match)
	if err != nil {
		return nil, fmt.Errorf("query ball samples: %w", err)
	}
	defer rows.Close()

	var out []BallSample
	for rows.Next() {
		var (
			b      BallSample
			ts     int64
			cx, cy sql.NullFloat64
		)
		if err := rows.Scan(&b.Frame, &ts, &b.TrackID, &b.Pixel.X, &b.Pixel.Y, &cx, &cy,
			&b.Velocity.X, &b.Velocity.Y); err != nil {
			return nil, fmt.Errorf("scan ball sample: %w", err)
		}
		b.Timestamp = time.Duration(ts)
		b.Court, b.HasCourt = pointFromNull(cx, cy)
		out = append(out, b)
	}
	return out, rows.Err()
}

func pointFromNull(x, y sql.NullFloat64) (court.Point, bool) {
	if !x.Valid || !y.Valid {
		return court.Point{}, false
	}
	return court.Point{X: x.Float64, Y: y.Float64}, true
}
