package tracks

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarcisiobannwart/tennis-tracking/internal/config"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/motion"
)

const frameDt = time.Second / 30

func testConfig() Config {
	cfg := ConfigFromTuning(config.EmptyTuningConfig())
	cfg.MaxTracks = 16
	cfg.HistoryLength = 32
	for _, p := range []*ClassParams{&cfg.Ball, &cfg.Player} {
		p.HitsToConfirm = 3
		p.MaxMisses = 5
		p.LostGrace = 4
		p.TentativeMaxMisses = 2
	}
	return cfg
}

func at(class Class, x, y float64) Detection {
	return Detection{Class: class, Confidence: 0.9, Point: &court.Point{X: x, Y: y}}
}

func ts(frame int64) time.Duration { return time.Duration(frame) * frameDt }

// scaleProjector maps pixels to metres by a fixed scale.
type scaleProjector float64

func (s scaleProjector) Project(p court.Point) (court.Point, bool) {
	return court.Point{X: p.X * float64(s), Y: p.Y * float64(s)}, true
}

// confirmedPlayer drives one player through three hits and returns its ID and
// the next frame index.
func confirmedPlayer(t *testing.T, m *Manager) (int64, int64) {
	t.Helper()
	var id int64
	for f := int64(0); f < 3; f++ {
		snap, rep := m.Update(f, ts(f), []Detection{at(Player, 100+5*float64(f), 200)}, nil)
		require.Len(t, snap.Tracks, 1)
		id = snap.Tracks[0].ID
		if f == 2 {
			assert.Equal(t, []int64{id}, rep.Confirmed)
		}
	}
	tv, ok := m.Track(id)
	require.True(t, ok)
	require.Equal(t, StatusConfirmed, tv.Status)
	return id, 3
}

func TestLifecycle_LostAfterMPlusOneMisses(t *testing.T) {
	t.Parallel()
	maxMisses := testConfig().Player.MaxMisses

	run := func(t *testing.T, gap int) (TrackView, UpdateReport) {
		m := NewManager(testConfig())
		id, f := confirmedPlayer(t, m)
		var rep UpdateReport
		for i := 0; i < gap; i++ {
			_, rep = m.Update(f, ts(f), nil, nil)
			f++
		}
		tv, ok := m.Track(id)
		require.True(t, ok)
		return tv, rep
	}

	t.Run("M misses stays confirmed", func(t *testing.T) {
		tv, rep := run(t, maxMisses)
		assert.Equal(t, StatusConfirmed, tv.Status)
		assert.Equal(t, maxMisses, tv.Misses)
		assert.Empty(t, rep.Lost)
	})

	t.Run("M+1 misses is lost", func(t *testing.T) {
		tv, rep := run(t, maxMisses+1)
		assert.Equal(t, StatusLost, tv.Status)
		assert.Equal(t, []int64{tv.ID}, rep.Lost)
		assert.True(t, errors.Is(rep.Err(), ErrTrackLost))
	})
}

func TestLifecycle_LostTrackLeavesSnapshotAndIsDeletedAfterGrace(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m := NewManager(cfg)
	id, f := confirmedPlayer(t, m)

	var snap Snapshot
	var rep UpdateReport
	gap := cfg.Player.MaxMisses + cfg.Player.LostGrace
	for i := 0; i < gap; i++ {
		snap, rep = m.Update(f, ts(f), nil, nil)
		f++
	}
	tv, ok := m.Track(id)
	require.True(t, ok, "still inside the grace period")
	assert.Equal(t, StatusLost, tv.Status)
	_, inSnap := snap.Find(id)
	assert.False(t, inSnap, "lost tracks are not published")

	_, rep = m.Update(f, ts(f), nil, nil)
	assert.Equal(t, []int64{id}, rep.Deleted)
	_, ok = m.Track(id)
	assert.False(t, ok)
}

func TestLifecycle_LostTrackRecovers(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m := NewManager(cfg)
	id, f := confirmedPlayer(t, m)
	for i := 0; i <= cfg.Player.MaxMisses; i++ {
		m.Update(f, ts(f), nil, nil)
		f++
	}
	tv, _ := m.Track(id)
	require.Equal(t, StatusLost, tv.Status)

	snap, rep := m.Update(f, ts(f), []Detection{at(Player, 100+5*float64(f), 200)}, nil)
	assert.Equal(t, []int64{id}, rep.Recovered)
	assert.Empty(t, rep.Spawned)
	got, ok := snap.Find(id)
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestLifecycle_TentativeDeleted(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m := NewManager(cfg)
	snap, rep := m.Update(0, 0, []Detection{at(Ball, 50, 50)}, nil)
	require.Len(t, rep.Spawned, 1)
	assert.Equal(t, StatusTentative, snap.Tracks[0].Status)
	assert.True(t, errors.Is(rep.Err(), ErrDetectionMismatch))

	for f := int64(1); f <= int64(cfg.Ball.TentativeMaxMisses); f++ {
		snap, _ = m.Update(f, ts(f), nil, nil)
		require.Len(t, snap.Tracks, 1)
	}
	f := int64(cfg.Ball.TentativeMaxMisses) + 1
	snap, rep = m.Update(f, ts(f), nil, nil)
	assert.Empty(t, snap.Tracks)
	assert.Equal(t, []int64{1}, rep.Deleted)
}

func TestAssociation_RecoversGroundTruth(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())

	start := []court.Point{{X: 100, Y: 100}, {X: 400, Y: 300}, {X: 700, Y: 500}}
	step := []court.Point{{X: 5, Y: 0}, {X: 0, Y: 5}, {X: -5, Y: -5}}
	pos := func(obj int, f int64) court.Point {
		return court.Point{X: start[obj].X + step[obj].X*float64(f), Y: start[obj].Y + step[obj].Y*float64(f)}
	}
	orders := [][]int{{0, 1, 2}, {2, 0, 1}, {1, 2, 0}, {2, 1, 0}, {0, 2, 1}, {1, 0, 2}}

	ids := make([]int64, 3)
	for f := int64(0); f < int64(len(orders)); f++ {
		var dets []Detection
		for _, obj := range orders[f] {
			p := pos(obj, f)
			dets = append(dets, at(Player, p.X, p.Y))
		}
		_, rep := m.Update(f, ts(f), dets, nil)
		if f == 0 {
			require.Len(t, rep.Spawned, 3)
			for i, obj := range orders[0] {
				ids[obj] = rep.Spawned[i]
			}
			continue
		}
		assert.Empty(t, rep.Spawned, "frame %d", f)
		assert.Len(t, rep.Matched, 3, "frame %d", f)
		for obj, id := range ids {
			s, ok := m.LastSample(id)
			require.True(t, ok)
			assert.Equal(t, pos(obj, f), s.Pixel, "frame %d object %d", f, obj)
		}
	}

	hist := m.History(ids[1])
	want := make([]court.Point, len(orders))
	got := make([]court.Point, len(hist))
	for f := range want {
		want[f] = pos(1, int64(f))
	}
	for i, s := range hist {
		got[i] = s.Pixel
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestAssociation_ClassIsHardConstraint(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	_, rep := m.Update(0, 0, []Detection{at(Ball, 300, 300)}, nil)
	ballID := rep.Spawned[0]

	snap, rep := m.Update(1, ts(1), []Detection{at(Player, 300, 300)}, nil)
	assert.Empty(t, rep.Matched)
	require.Len(t, rep.Spawned, 1)
	assert.NotEqual(t, ballID, rep.Spawned[0])

	ball, ok := snap.Find(ballID)
	require.True(t, ok)
	assert.Equal(t, 1, ball.Misses)
	player, ok := snap.Find(rep.Spawned[0])
	require.True(t, ok)
	assert.Equal(t, Player, player.Class)
}

func TestAssociation_GatingSpawnsNewTrack(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m := NewManager(cfg)
	m.Update(0, 0, []Detection{at(Player, 100, 100)}, nil)
	_, rep := m.Update(1, ts(1), []Detection{at(Player, 100+cfg.Player.GatingDistance+10, 100)}, nil)
	assert.Empty(t, rep.Matched)
	assert.Len(t, rep.Spawned, 1)
	assert.Equal(t, 1, rep.Unmatched)
}

func TestAssociation_TieFavoursOlderTrack(t *testing.T) {
	t.Parallel()
	params := testConfig().Player
	est := motion.New(params.Motion, params.Estimator, 100, 100)
	older := &track{id: 1, class: Player, age: 10, est: est}
	newer := &track{id: 2, class: Player, age: 1, est: est.Clone()}

	p := court.Point{X: 102, Y: 101}
	cOld := pairCost(older, p, params)
	cNew := pairCost(newer, p, params)
	assert.Less(t, cOld, cNew)
	assert.InDelta(t, cOld, cNew, 1e-6)
	assert.Equal(t, []int{0}, HungarianAssign([][]float64{{cOld, cNew}}))

	assert.Equal(t, Infeasible, pairCost(older, court.Point{X: 400, Y: 100}, params))
}

func TestBallUniqueness_OlderConfirmedRetained(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())

	a := func(f int64) Detection { return at(Ball, 100+10*float64(f), 100) }
	b := func(f int64) Detection { return at(Ball, 900-10*float64(f), 600) }

	_, rep := m.Update(0, 0, []Detection{a(0)}, nil)
	older := rep.Spawned[0]
	_, rep = m.Update(1, ts(1), []Detection{a(1), b(1)}, nil)
	require.Len(t, rep.Spawned, 1)
	newer := rep.Spawned[0]

	_, rep = m.Update(2, ts(2), []Detection{a(2), b(2)}, nil)
	assert.Equal(t, []int64{older}, rep.Confirmed)
	assert.Empty(t, rep.Merged)

	snap, rep := m.Update(3, ts(3), []Detection{a(3), b(3)}, nil)
	assert.Equal(t, []int64{newer}, rep.Confirmed)
	assert.Equal(t, []int64{newer}, rep.Merged)
	assert.Contains(t, rep.Deleted, newer)
	_, ok := snap.Find(newer)
	assert.False(t, ok)

	ball, ok := m.BallTrack()
	require.True(t, ok)
	assert.Equal(t, older, ball.ID)
	assert.Equal(t, 1, m.Count(Ball))
}

func TestBallUniqueness_ConfirmedBeatsLost(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m := NewManager(cfg)

	var f int64
	var first int64
	for ; f < 3; f++ {
		_, rep := m.Update(f, ts(f), []Detection{at(Ball, 100, 100)}, nil)
		if f == 0 {
			first = rep.Spawned[0]
		}
	}
	for i := 0; i <= cfg.Ball.MaxMisses; i++ {
		m.Update(f, ts(f), nil, nil)
		f++
	}
	tv, _ := m.Track(first)
	require.Equal(t, StatusLost, tv.Status)

	var rep UpdateReport
	for i := 0; i < 3; i++ {
		_, rep = m.Update(f, ts(f), []Detection{at(Ball, 800, 500)}, nil)
		f++
	}
	assert.Equal(t, []int64{first}, rep.Merged)
	ball, ok := m.BallTrack()
	require.True(t, ok)
	assert.NotEqual(t, first, ball.ID)
	assert.Equal(t, StatusConfirmed, ball.Status)
}

func TestManager_MaxTracks(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxTracks = 2
	m := NewManager(cfg)
	snap, rep := m.Update(0, 0, []Detection{
		at(Player, 100, 100), at(Player, 400, 400), at(Player, 700, 700),
	}, nil)
	assert.Len(t, snap.Tracks, 2)
	assert.Equal(t, 3, rep.Unmatched)
	assert.Equal(t, 1, rep.Dropped)
}

func TestManager_UnusableDetectionDropped(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	_, rep := m.Update(0, 0, []Detection{{Class: Ball, Confidence: 0.5}}, nil)
	assert.Equal(t, 1, rep.Dropped)
	assert.Empty(t, rep.Spawned)
	assert.NoError(t, rep.Err())
}

func TestManager_ProjectsSamplesAndViews(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	snap, rep := m.Update(0, 0, []Detection{at(Player, 200, 400)}, scaleProjector(0.01))
	require.Len(t, snap.Tracks, 1)
	tv := snap.Tracks[0]
	assert.True(t, tv.HasCourt)
	assert.InDelta(t, 2.0, tv.Court.X, 1e-9)
	assert.InDelta(t, 4.0, tv.Court.Y, 1e-9)

	s, ok := m.LastSample(rep.Spawned[0])
	require.True(t, ok)
	assert.True(t, s.HasCourt)
	assert.InDelta(t, 2.0, s.Court.X, 1e-9)
	assert.InDelta(t, 4.0, s.Court.Y, 1e-9)

	snap, _ = m.Update(1, ts(1), []Detection{at(Player, 200, 400)}, nil)
	assert.False(t, snap.Tracks[0].HasCourt)
}

func TestManager_NonMonotonicTimestampHeld(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	m.Update(0, ts(5), []Detection{at(Player, 100, 100)}, nil)
	snap, rep := m.Update(1, ts(3), []Detection{at(Player, 101, 100)}, nil)
	assert.Len(t, rep.Matched, 1)
	assert.Equal(t, ts(5), snap.Timestamp)

	hist := m.History(rep.Matched[0])
	require.Len(t, hist, 2)
	assert.LessOrEqual(t, hist[0].Timestamp, hist[1].Timestamp)
}

func TestManager_RemoveAndReset(t *testing.T) {
	t.Parallel()
	m := NewManager(testConfig())
	_, rep := m.Update(0, 0, []Detection{at(Player, 100, 100), at(Ball, 300, 300)}, nil)
	require.Len(t, rep.Spawned, 2)

	assert.True(t, m.Remove(rep.Spawned[0]))
	assert.False(t, m.Remove(rep.Spawned[0]))
	assert.Len(t, m.Tracks(), 1)

	m.Reset()
	assert.Empty(t, m.Tracks())
	_, rep = m.Update(0, 0, []Detection{at(Player, 100, 100)}, nil)
	assert.Equal(t, []int64{3}, rep.Spawned, "IDs are never reused")
}

func TestDetectionCenter(t *testing.T) {
	t.Parallel()
	box := &Box{X1: 10, Y1: 20, X2: 30, Y2: 80}

	p, ok := Detection{Class: Player, Box: box}.Center()
	require.True(t, ok)
	assert.Equal(t, court.Point{X: 20, Y: 80}, p, "players use the foot point")

	p, ok = Detection{Class: Ball, Box: box}.Center()
	require.True(t, ok)
	assert.Equal(t, court.Point{X: 20, Y: 50}, p)

	p, ok = Detection{Class: Ball, Box: box, Point: &court.Point{X: 1, Y: 2}}.Center()
	require.True(t, ok)
	assert.Equal(t, court.Point{X: 1, Y: 2}, p)

	_, ok = Detection{Class: Ball}.Center()
	assert.False(t, ok)
}

func TestUpdateReportErr(t *testing.T) {
	t.Parallel()
	assert.NoError(t, UpdateReport{Matched: []int64{1}}.Err())
	err := UpdateReport{Unmatched: 1, Lost: []int64{2}, IllConditioned: 1}.Err()
	assert.ErrorIs(t, err, ErrDetectionMismatch)
	assert.ErrorIs(t, err, ErrTrackLost)
	assert.ErrorIs(t, err, motion.ErrIllConditioned)
}

func TestClassText(t *testing.T) {
	t.Parallel()
	var c Class
	require.NoError(t, c.UnmarshalText([]byte("Player")))
	assert.Equal(t, Player, c)
	b, err := Ball.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ball", string(b))
	assert.Error(t, c.UnmarshalText([]byte("racket")))

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("lost")))
	assert.Equal(t, StatusLost, s)
	assert.Error(t, s.UnmarshalText([]byte("gone")))
}

func TestConfigFromTuning(t *testing.T) {
	t.Parallel()
	cfg := ConfigFromTuning(config.EmptyTuningConfig())
	assert.Equal(t, motion.VerticalAcceleration, cfg.Ball.Motion)
	assert.Equal(t, motion.ConstantVelocity, cfg.Player.Motion)
	assert.Equal(t, 32, cfg.MaxTracks)
	assert.Equal(t, 0.5, cfg.Ball.Estimator.MaxPredictDt)
	assert.Equal(t, cfg.Ball, cfg.Params(Ball))
	assert.Equal(t, cfg.Player, cfg.Params(Player))
	assert.Equal(t, DefaultConfig(), cfg)
}
