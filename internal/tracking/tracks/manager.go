// Package tracks associates per-frame detections with tracked objects and
// runs each track through its tentative → confirmed → lost → deleted
// lifecycle.
package tracks

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/motion"
)

var (
	// ErrDetectionMismatch marks a detection that had no feasible track and
	// spawned a tentative one instead.
	ErrDetectionMismatch = errors.New("detection matched no track")
	// ErrTrackLost marks a confirmed track that exceeded its miss limit.
	ErrTrackLost = errors.New("track lost")
)

// TieEpsilon scales the age bonus added to association costs so that, among
// equal-cost pairings, the older track wins.
const TieEpsilon = 1e-6

// Projector maps pixel positions to court metres. *court.Model satisfies it.
type Projector interface {
	Project(pixel court.Point) (court.Point, bool)
}

// UpdateReport summarises the lifecycle transitions of one Update.
type UpdateReport struct {
	Matched   []int64 `json:"matched,omitempty"`
	Spawned   []int64 `json:"spawned,omitempty"`
	Confirmed []int64 `json:"confirmed,omitempty"`
	Recovered []int64 `json:"recovered,omitempty"` // lost → confirmed
	Lost      []int64 `json:"lost,omitempty"`
	Deleted   []int64 `json:"deleted,omitempty"` // every track removed this frame
	Merged    []int64 `json:"merged,omitempty"`  // removed by ball uniqueness

	IllConditioned int `json:"ill_conditioned,omitempty"`
	Unmatched      int `json:"unmatched,omitempty"` // detections without a feasible track
	Dropped        int `json:"dropped,omitempty"`   // unusable detections or MaxTracks overflow
}

// Err joins the non-fatal conditions observed during the update, or nil.
func (r UpdateReport) Err() error {
	var errs []error
	if r.Unmatched > 0 {
		errs = append(errs, ErrDetectionMismatch)
	}
	if len(r.Lost) > 0 {
		errs = append(errs, ErrTrackLost)
	}
	if r.IllConditioned > 0 {
		errs = append(errs, motion.ErrIllConditioned)
	}
	return errors.Join(errs...)
}

// Manager owns the arena of tracks of one match. Update is expected to be
// called from a single goroutine; the lock allows concurrent readers.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	tracks map[int64]*track
	nextID int64

	started bool
	lastTs  time.Duration
	proj    Projector
}

// NewManager creates an empty manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:    cfg,
		tracks: make(map[int64]*track),
		nextID: 1,
	}
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Update runs one association step for the detections of a frame. proj may be
// nil when no calibration is available. It always returns a snapshot.
func (m *Manager) Update(frame int64, ts time.Duration, detections []Detection, proj Projector) (Snapshot, UpdateReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rep UpdateReport
	var dt float64
	if m.started {
		if ts < m.lastTs {
			opsf("frame %d: timestamp %v precedes %v, holding time", frame, ts, m.lastTs)
			ts = m.lastTs
		}
		dt = (ts - m.lastTs).Seconds()
	}
	m.started = true
	m.lastTs = ts
	m.proj = proj

	// Step 1: Predict all live tracks to the frame time.
	ordered := m.orderedLocked()
	for _, t := range ordered {
		t.est.Predict(dt)
		t.age++
	}

	centers := make([]court.Point, len(detections))
	usable := make([]bool, len(detections))
	for i, d := range detections {
		centers[i], usable[i] = d.Center()
		if !usable[i] {
			rep.Dropped++
			opsf("frame %d: dropping %s detection %d without a finite position", frame, d.Class, i)
		}
	}

	// Steps 2-4: Associate per class and update matched tracks.
	assigned := make([]bool, len(detections))
	matched := make(map[int64]bool)
	for _, class := range Classes {
		params := m.cfg.Params(class)
		var rows []int
		for i, d := range detections {
			if usable[i] && d.Class == class {
				rows = append(rows, i)
			}
		}
		var cols []*track
		for _, t := range ordered {
			if t.class == class {
				cols = append(cols, t)
			}
		}
		if len(rows) == 0 || len(cols) == 0 {
			continue
		}

		cost := make([][]float64, len(rows))
		for r, di := range rows {
			cost[r] = make([]float64, len(cols))
			for c, t := range cols {
				cost[r][c] = pairCost(t, centers[di], params)
			}
		}
		for r, c := range HungarianAssign(cost) {
			if c < 0 {
				continue
			}
			di, t := rows[r], cols[c]
			m.matchLocked(t, frame, ts, centers[di], proj, params, &rep)
			assigned[di] = true
			matched[t.id] = true
		}
	}

	// Step 5: Spawn tentative tracks from unassigned detections.
	for i, d := range detections {
		if !usable[i] || assigned[i] {
			continue
		}
		rep.Unmatched++
		if m.cfg.MaxTracks > 0 && len(m.tracks) >= m.cfg.MaxTracks {
			rep.Dropped++
			opsf("frame %d: track limit %d reached, dropping %s detection", frame, m.cfg.MaxTracks, d.Class)
			continue
		}
		t := m.spawnLocked(d.Class, frame, ts, centers[i], proj)
		rep.Spawned = append(rep.Spawned, t.id)
		if t.status == StatusConfirmed {
			rep.Confirmed = append(rep.Confirmed, t.id)
		}
		matched[t.id] = true
	}

	// Step 6: Advance misses on unmatched tracks.
	for _, t := range ordered {
		if matched[t.id] {
			continue
		}
		params := m.cfg.Params(t.class)
		t.misses++
		t.hits = 0
		switch t.status {
		case StatusTentative:
			if t.misses > params.TentativeMaxMisses {
				t.status = StatusDeleted
			}
		case StatusConfirmed:
			if t.misses > params.MaxMisses {
				t.status = StatusLost
				rep.Lost = append(rep.Lost, t.id)
				diagf("frame %d: %s track %d lost after %d misses", frame, t.class, t.id, t.misses)
			}
		case StatusLost:
			if t.misses > params.MaxMisses+params.LostGrace {
				t.status = StatusDeleted
			}
		}
	}

	// Step 7: Keep at most one confirmed or lost ball track.
	rep.Merged = m.enforceSingleBallLocked()

	// Step 8: Drop deleted tracks and publish the snapshot.
	for _, t := range m.orderedLocked() {
		if t.status == StatusDeleted {
			rep.Deleted = append(rep.Deleted, t.id)
			delete(m.tracks, t.id)
			tracef("frame %d: deleted %s track %d", frame, t.class, t.id)
		}
	}

	return m.snapshotLocked(frame, ts), rep
}

// pairCost returns the association cost of a detection at p with track t, or
// Infeasible when the pair falls outside either gate.
func pairCost(t *track, p court.Point, params ClassParams) float64 {
	x, y := t.est.Position()
	if params.GatingDistance > 0 && math.Hypot(p.X-x, p.Y-y) > params.GatingDistance {
		return Infeasible
	}
	d2 := t.est.MahalanobisSquared(p.X, p.Y)
	if !(d2 <= params.MaxCost) {
		return Infeasible
	}
	return d2 + TieEpsilon/float64(1+t.age)
}

func (m *Manager) matchLocked(t *track, frame int64, ts time.Duration, p court.Point, proj Projector, params ClassParams, rep *UpdateReport) {
	if err := t.est.Update(p.X, p.Y); err != nil {
		rep.IllConditioned++
		diagf("frame %d: %s track %d kept prediction: %v", frame, t.class, t.id, err)
	}
	t.hits++
	t.misses = 0
	t.lastFrame = frame

	switch t.status {
	case StatusTentative:
		if t.hits >= params.HitsToConfirm {
			t.status = StatusConfirmed
			rep.Confirmed = append(rep.Confirmed, t.id)
			diagf("frame %d: %s track %d confirmed", frame, t.class, t.id)
		}
	case StatusLost:
		t.status = StatusConfirmed
		rep.Recovered = append(rep.Recovered, t.id)
		diagf("frame %d: %s track %d recovered", frame, t.class, t.id)
	}

	t.history.Push(newSample(t, frame, ts, p, proj))
	rep.Matched = append(rep.Matched, t.id)
}

func (m *Manager) spawnLocked(class Class, frame int64, ts time.Duration, p court.Point, proj Projector) *track {
	params := m.cfg.Params(class)
	t := &track{
		id:         m.nextID,
		class:      class,
		status:     StatusTentative,
		hits:       1,
		firstFrame: frame,
		lastFrame:  frame,
		est:        motion.New(params.Motion, params.Estimator, p.X, p.Y),
		history:    NewRing[Sample](m.cfg.HistoryLength),
	}
	m.nextID++
	if t.hits >= params.HitsToConfirm {
		t.status = StatusConfirmed
	}
	t.history.Push(newSample(t, frame, ts, p, proj))
	m.tracks[t.id] = t
	tracef("frame %d: spawned %s track %d at (%.1f, %.1f)", frame, class, t.id, p.X, p.Y)
	return t
}

func newSample(t *track, frame int64, ts time.Duration, p court.Point, proj Projector) Sample {
	vx, vy := t.est.Velocity()
	s := Sample{
		Frame:     frame,
		Timestamp: ts,
		Pixel:     p,
		Velocity:  court.Point{X: vx, Y: vy},
	}
	if proj != nil {
		s.Court, s.HasCourt = proj.Project(p)
	}
	return s
}

// enforceSingleBallLocked deletes every confirmed or lost ball track except
// one: confirmed beats lost, then the older track wins.
func (m *Manager) enforceSingleBallLocked() []int64 {
	var keep *track
	var candidates []*track
	for _, t := range m.orderedLocked() {
		if t.class != Ball || (t.status != StatusConfirmed && t.status != StatusLost) {
			continue
		}
		candidates = append(candidates, t)
		if keep == nil || ballPreferred(t, keep) {
			keep = t
		}
	}
	if len(candidates) < 2 {
		return nil
	}
	var merged []int64
	for _, t := range candidates {
		if t == keep {
			continue
		}
		t.status = StatusDeleted
		merged = append(merged, t.id)
		diagf("ball track %d merged into track %d", t.id, keep.id)
	}
	return merged
}

func ballPreferred(a, b *track) bool {
	if a.status != b.status {
		return a.status == StatusConfirmed
	}
	return a.older(b)
}

// orderedLocked returns the live tracks sorted by ID.
func (m *Manager) orderedLocked() []*track {
	out := make([]*track, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (m *Manager) snapshotLocked(frame int64, ts time.Duration) Snapshot {
	snap := Snapshot{Frame: frame, Timestamp: ts, Tracks: []TrackView{}}
	for _, t := range m.orderedLocked() {
		if t.status == StatusTentative || t.status == StatusConfirmed {
			snap.Tracks = append(snap.Tracks, t.view(m.proj))
		}
	}
	return snap
}

// Track returns the current view of track id, including lost tracks.
func (m *Manager) Track(id int64) (TrackView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	if !ok {
		return TrackView{}, false
	}
	return t.view(m.proj), true
}

// Tracks returns views of every live track, lost ones included, sorted by ID.
func (m *Manager) Tracks() []TrackView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ordered := m.orderedLocked()
	out := make([]TrackView, len(ordered))
	for i, t := range ordered {
		out[i] = t.view(m.proj)
	}
	return out
}

// History returns a copy of the measured samples of track id, oldest first.
func (m *Manager) History(id int64) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	if !ok {
		return nil
	}
	return t.history.Slice()
}

// LastSample returns the newest measured sample of track id.
func (m *Manager) LastSample(id int64) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	if !ok {
		return Sample{}, false
	}
	return t.history.Last()
}

// BallTrack returns the single confirmed or lost ball track, if any.
func (m *Manager) BallTrack() (TrackView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.orderedLocked() {
		if t.class == Ball && (t.status == StatusConfirmed || t.status == StatusLost) {
			return t.view(m.proj), true
		}
	}
	return TrackView{}, false
}

// Count returns the number of live tracks of a class.
func (m *Manager) Count(class Class) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.tracks {
		if t.class == class {
			n++
		}
	}
	return n
}

// Remove deletes track id and reports whether it existed.
func (m *Manager) Remove(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tracks[id]; !ok {
		return false
	}
	delete(m.tracks, id)
	return true
}

// Reset discards every track and the time base. IDs keep increasing so they
// stay unique within the match.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = make(map[int64]*track)
	m.started = false
	m.lastTs = 0
	m.proj = nil
}
