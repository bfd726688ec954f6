package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/session"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/tracks"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/trajectory"
)

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

// Store writes session output to SQLite. It is safe for concurrent use by
// several matches.
type Store struct {
	db *sql.DB
}

var _ session.Sink = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	diagf("opened tracking database %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

// OnFrame implements session.Sink. It records the match progress, the ball
// sample when the ball track was matched this frame, and any calibration
// attempt made at this frame.
func (s *Store) OnFrame(ctx context.Context, res session.FrameResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin frame %d: %w", res.Frame, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO matches (match_id, first_frame, last_frame, frames)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(match_id) DO UPDATE SET
			last_frame = excluded.last_frame,
			frames = frames + 1
	`, res.Match, res.Frame, res.Frame); err != nil {
		return fmt.Errorf("upsert match %s: %w", res.Match, err)
	}

	for _, tv := range res.Snapshot.Tracks {
		if tv.Class != tracks.Ball || tv.Status != tracks.StatusConfirmed || tv.LastFrame != res.Frame {
			continue
		}
		cx, cy := nullPoint(tv.Court, tv.HasCourt)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ball_samples (
				match_id, frame, ts_nanos, track_id,
				pixel_x, pixel_y, court_x, court_y, velocity_x, velocity_y
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(match_id, frame) DO UPDATE SET
				track_id = excluded.track_id,
				pixel_x = excluded.pixel_x,
				pixel_y = excluded.pixel_y,
				court_x = excluded.court_x,
				court_y = excluded.court_y,
				velocity_x = excluded.velocity_x,
				velocity_y = excluded.velocity_y
		`, res.Match, res.Frame, int64(res.Timestamp), tv.ID,
			tv.Pixel.X, tv.Pixel.Y, cx, cy, tv.Velocity.X, tv.Velocity.Y); err != nil {
			return fmt.Errorf("insert ball sample: %w", err)
		}
	}

	if rec, ok := calibrationAttempt(res); ok {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO calibrations (match_id, frame, accepted, residual, reason)
			VALUES (?, ?, ?, ?, ?)
		`, res.Match, rec.Frame, rec.Accepted, rec.Residual, rec.Reason); err != nil {
			return fmt.Errorf("insert calibration: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit frame %d: %w", res.Frame, err)
	}
	tracef("match %s: stored frame %d", res.Match, res.Frame)
	return nil
}

// calibrationAttempt reports the calibration outcome of a frame at which a
// fit was attempted.
func calibrationAttempt(res session.FrameResult) (CalibrationRecord, bool) {
	st := res.Calibration
	switch {
	case st.Valid && !st.Rejected && st.AcceptedFrame == res.Frame && st.LastAttemptFrame == res.Frame:
		return CalibrationRecord{Frame: res.Frame, Accepted: true, Residual: st.Residual}, true
	case st.Rejected && st.LastAttemptFrame == res.Frame:
		return CalibrationRecord{Frame: res.Frame, Residual: st.Residual, Reason: st.Reason}, true
	}
	return CalibrationRecord{}, false
}

// OnEvent implements session.Sink.
func (s *Store) OnEvent(ctx context.Context, match string, ev trajectory.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO matches (match_id, first_frame, last_frame, frames)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(match_id) DO NOTHING
	`, match, ev.Frame, ev.Frame); err != nil {
		return fmt.Errorf("upsert match %s: %w", match, err)
	}

	cx, cy := nullPoint(ev.Position, ev.HasPosition)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (
			match_id, event_type, track_id, frame, ts_nanos,
			court_x, court_y, pixel_x, pixel_y, confidence, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, match, ev.Type.String(), ev.TrackID, ev.Frame, int64(ev.Timestamp),
		cx, cy, ev.Pixel.X, ev.Pixel.Y, ev.Confidence, ev.Reason); err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	diagf("match %s: stored %s event at frame %d", match, ev.Type, ev.Frame)
	return nil
}

// DeleteMatch removes a match and everything recorded for it.
func (s *Store) DeleteMatch(ctx context.Context, match string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM matches WHERE match_id = ?`, match)
	if err != nil {
		return fmt.Errorf("delete match %s: %w", match, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		opsf("delete match %s: no such match", match)
	}
	return nil
}

func nullPoint(p court.Point, ok bool) (sql.NullFloat64, sql.NullFloat64) {
	if !ok {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.X, Valid: true}, sql.NullFloat64{Float64: p.Y, Valid: true}
}
