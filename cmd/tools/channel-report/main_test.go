package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/facetrack/internal/config"
	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/face/monitor"
	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/face/pose"
	"github.com/banshee-data/facetrack/internal/face/storage"
	"github.com/banshee-data/facetrack/internal/testutil"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSession stores n frames of a slowly turning head and returns the
// session ID.
func recordSession(t *testing.T, db *storage.DB, n int) string {
	t.Helper()
	model := pose.DefaultFaceModel()
	solver := pose.NewSolver(480, 640, model, pose.DefaultSolverConfig())

	tracker := pipeline.NewTracker(pipeline.TrackerConfigFromTuning(config.DefaultTuningConfig()))
	rec, err := storage.NewRecorder(db, "test", nil)
	require.NoError(t, err)

	var frames []landmarks.Frame
	for i := 0; i < n; i++ {
		yaw := 0.01 * float64(i)
		m := pose.Rodrigues(r3.Vector{X: -math.Pi}).Mul(pose.Rodrigues(r3.Vector{Y: yaw}))
		p := pose.Pose{Rotation: pose.RotationVector(m), Translation: r3.Vector{Z: 600}}
		face := testutil.SyntheticFace(true)
		testutil.PlacePoints(face, model.Indices(), solver.Project(p))
		frames = append(frames, testutil.SyntheticFrame(int64(i), face))
	}

	runner := pipeline.NewRunner(tracker, landmarks.NewSliceSource(frames))
	runner.SetRecorder(rec)
	require.NoError(t, runner.Run(context.Background()))
	require.NoError(t, rec.Close())
	return rec.SessionID()
}

func openStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPickSession(t *testing.T) {
	db := openStore(t)
	_, err := pickSession(db, "")
	assert.Error(t, err)

	id := recordSession(t, db, 3)
	s, err := pickSession(db, "")
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)

	s, err = pickSession(db, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.FrameCount)

	_, err = pickSession(db, "missing")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestReplayMatchesRecording(t *testing.T) {
	db := openStore(t)
	id := recordSession(t, db, 10)

	rows, err := db.LoadOutputs(id)
	require.NoError(t, err)
	recorded := monitor.SamplesFromRows(rows)
	require.Len(t, recorded, 10)

	replayed, err := replaySession(context.Background(), db, id, config.DefaultTuningConfig())
	require.NoError(t, err)
	require.Len(t, replayed, len(recorded))
	for i := range recorded {
		assert.Equal(t, recorded[i].Index, replayed[i].Index)
		for c := range recorded[i].Values {
			assert.InDelta(t, recorded[i].Values[c], replayed[i].Values[c], 1e-9, "frame %d channel %d", i, c)
		}
	}
}

func TestWriteReport(t *testing.T) {
	db := openStore(t)
	id := recordSession(t, db, 5)
	rows, err := db.LoadOutputs(id)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	written, err := writeReport(dir, id, monitor.SamplesFromRows(rows), []int{2, 9})
	require.NoError(t, err)
	require.Len(t, written, 3)
	for _, p := range written {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), p)
	}
	assert.Equal(t, filepath.Join(dir, id+"_yaw.png"), written[1])

	_, err = writeReport("/proc/facetrack-report", id, nil, []int{0})
	assert.Error(t, err)
}

func TestPrintTables(t *testing.T) {
	var buf bytes.Buffer
	printJitter(&buf, []monitor.ChannelJitter{{Name: "yaw", Raw: 1, Stabilized: 0.25, Reduction: 0.75}})
	assert.Contains(t, buf.String(), "yaw")
	assert.Contains(t, buf.String(), "75.0%")

	buf.Reset()
	printSessions(&buf, []storage.Session{{ID: "abc", Source: "udp"}})
	assert.Contains(t, buf.String(), "abc")
}
