package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/court"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/session"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/storage/sqlite"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/tracks"
	"github.com/tarcisiobannwart/tennis-tracking/internal/tracking/trajectory"
	"github.com/tarcisiobannwart/tennis-tracking/internal/units"
)

const frameDt = time.Second / 30

var cameraH = [9]float64{
	50, 8, 300,
	0, 22, 100,
	0, 0.012, 1,
}

// writeMatch writes n JSON-lines frames of a ball that reverses vertically
// after frame turn. When calibrate is set, frame 0 carries court references.
func writeMatch(t *testing.T, dir, name string, n, turn int64, calibrate bool) string {
	t.Helper()
	var refs []court.Correspondence
	if calibrate {
		camera, err := court.NewTransform(cameraH)
		require.NoError(t, err)
		for _, kp := range court.CanonicalKeypoints() {
			px, ok := camera.Apply(kp.Court)
			require.True(t, ok)
			refs = append(refs, court.Correspondence{Pixel: px, Court: kp.Court})
		}
	}

	path := filepath.Join(dir, name+".jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for fr := int64(0); fr < n; fr++ {
		y := 100 + 5*float64(fr)
		if fr > turn {
			y = 100 + 5*float64(turn) - 5*float64(fr-turn)
		}
		in := session.FrameInput{
			Frame:     fr,
			Timestamp: time.Duration(fr) * frameDt,
			Detections: []tracks.Detection{
				{Class: tracks.Ball, Confidence: 0.8, Point: &court.Point{X: 100 + 10*float64(fr), Y: y}},
				{Class: tracks.Player, Confidence: 0.9, Box: &tracks.Box{X1: 600, Y1: 300, X2: 640, Y2: 420}},
			},
		}
		if fr == 0 {
			in.References = refs
		}
		require.NoError(t, enc.Encode(in))
	}
	return path
}

func testOptions(dir string, inputs ...string) options {
	return options{
		DBFile:     filepath.Join(dir, "tracking.db"),
		OutDir:     filepath.Join(dir, "out"),
		Units:      units.KMPH,
		Confidence: 0.8,
		LogFormat:  "json",
		Inputs:     inputs,
	}
}

func decodeOutput(t *testing.T, b []byte) []outputRecord {
	t.Helper()
	var out []outputRecord
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var rec outputRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), sc.Text())
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRun_ReplaysMatches(t *testing.T) {
	dir := t.TempDir()
	a := writeMatch(t, dir, "a", 12, 4, false)
	b := writeMatch(t, dir, "b", 12, 6, true)
	opts := testOptions(dir, a, b)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &stdout, &stderr))

	bounces := map[string]int{}
	for _, rec := range decodeOutput(t, stdout.Bytes()) {
		assert.Equal(t, "event", rec.Kind)
		require.NotNil(t, rec.Event)
		if rec.Event.Type == trajectory.EventBounce {
			bounces[rec.Match]++
		}
	}
	assert.GreaterOrEqual(t, bounces["a"], 1)
	assert.GreaterOrEqual(t, bounces["b"], 1)

	report := stderr.String()
	assert.Contains(t, report, "match a:")
	assert.Contains(t, report, "match b:")
	assert.Contains(t, report, "match a: no calibrated ball positions, court plot skipped")

	_, err := os.Stat(filepath.Join(opts.OutDir, "b_court.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(opts.OutDir, "a_court.png"))
	assert.True(t, os.IsNotExist(err))
	for _, name := range []string{"a_speed.html", "b_speed.html"} {
		page, err := os.ReadFile(filepath.Join(opts.OutDir, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(page), "</html>", name)
	}

	store, err := sqlite.Open(opts.DBFile)
	require.NoError(t, err)
	defer store.Close()
	matches, err := store.Matches(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, int64(12), m.Frames, m.ID)
	}
	calib, err := store.Calibrations(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, calib, 1)
	assert.True(t, calib[0].Accepted)
}

func TestRun_EmitsFrames(t *testing.T) {
	dir := t.TempDir()
	a := writeMatch(t, dir, "rally", 5, 10, false)
	opts := testOptions(dir, a)
	opts.OutDir = ""
	opts.Frames = true

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &stdout, &stderr))

	var frames []int64
	for _, rec := range decodeOutput(t, stdout.Bytes()) {
		if rec.Kind == "frame" {
			require.NotNil(t, rec.Frame)
			assert.Equal(t, "rally", rec.Match)
			frames = append(frames, rec.Frame.Frame)
		}
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, frames)
}

func TestRun_SkipsEmptyInput(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	opts := testOptions(dir, empty)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &stdout, &stderr))
	assert.Empty(t, stdout.String())
}

func TestRun_BadInput(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte(`{"frame":0}`+"\n"+`{"frame":`), 0o644))
	opts := testOptions(dir, bad)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), opts, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.jsonl")

	err = run(context.Background(), testOptions(dir, filepath.Join(dir, "missing.jsonl")), &stdout, &stderr)
	assert.Error(t, err)
}

func TestMatchID(t *testing.T) {
	assert.Equal(t, "final", matchID("/data/final.jsonl"))
	assert.Equal(t, "semi", matchID("semi"))
	assert.Empty(t, matchID("-"))
}
