package storage

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/facetrack/internal/face/features"
	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/face/pose"
	"github.com/banshee-data/facetrack/internal/testutil"
	"github.com/banshee-data/facetrack/internal/timeutil"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testOutput(index int64, ts time.Time) *pipeline.FrameOutput {
	p := pose.Pose{Rotation: r3.Vector{X: -3.1, Y: 0.05}, Translation: r3.Vector{Z: 600}}
	return &pipeline.FrameOutput{
		Index:     index,
		Timestamp: ts,
		Angles:    pose.Angles{Roll: 2, Pitch: -4, Yaw: 1},
		Expression: features.Expression{
			EARLeft: 0.3, EARRight: 0.29,
			IrisXLeft: 0.5, IrisYLeft: 0.5, IrisXRight: 0.5, IrisYRight: 0.5,
			MAR: 0.2, MouthDistance: 60,
		},
		Pose:          p,
		RawPose:       p,
		RawExpression: features.Expression{EARLeft: 0.31, MouthDistance: 61},
		RMSE:          0.8,
		Quality:       pose.PoseQualityExcellent,
	}
}

func TestMigrations(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	require.NoError(t, db.MigrateDown())
	require.NoError(t, db.MigrateUp())

	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	start := time.Unix(1700000000, 0).UTC()

	s, err := db.CreateSession("udp", start)
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, err := db.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "udp", got.Source)
	assert.True(t, got.StartedAt.Equal(start))
	assert.Nil(t, got.EndedAt)

	require.NoError(t, db.EndSession(s.ID, start.Add(time.Minute), 10, 8))
	got, err = db.GetSession(s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(start.Add(time.Minute)))
	assert.Equal(t, int64(10), got.FrameCount)
	assert.Equal(t, int64(8), got.EmittedCount)

	later, err := db.CreateSession("file", start.Add(time.Hour))
	require.NoError(t, err)
	list, err := db.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, later.ID, list[0].ID)

	require.NoError(t, db.DeleteSession(s.ID))
	_, err = db.GetSession(s.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.True(t, errors.Is(db.EndSession("missing", start, 0, 0), ErrSessionNotFound))
	assert.True(t, errors.Is(db.DeleteSession("missing"), ErrSessionNotFound))
}

func TestRecorderRoundTrip(t *testing.T) {
	db := openTestDB(t)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))

	rec, err := NewRecorder(db, "test", clock)
	require.NoError(t, err)

	var frames []landmarks.Frame
	for i := int64(0); i < 5; i++ {
		f := testutil.SyntheticFrame(i, testutil.SyntheticFace(i%2 == 0))
		frames = append(frames, f)
		var out *pipeline.FrameOutput
		if i != 2 {
			out = testOutput(i, f.Timestamp)
		}
		require.NoError(t, rec.RecordFrame(f, out))
	}
	empty := testutil.SyntheticFrame(5)
	frames = append(frames, empty)
	require.NoError(t, rec.RecordFrame(empty, nil))

	clock.Advance(time.Second)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.Error(t, rec.RecordFrame(empty, nil))

	s, err := db.GetSession(rec.SessionID())
	require.NoError(t, err)
	assert.Equal(t, int64(6), s.FrameCount)
	assert.Equal(t, int64(4), s.EmittedCount)

	rows, err := db.LoadOutputs(rec.SessionID())
	require.NoError(t, err)
	require.Len(t, rows, 4)
	want := testOutput(3, frames[3].Timestamp)
	assert.Equal(t, int64(3), rows[2].FrameIndex)
	assert.Equal(t, want.Values(), rows[2].Values)
	assert.Equal(t, want.RawValues(), rows[2].Raw)
	assert.Equal(t, 0.8, rows[2].RMSE)
	assert.Equal(t, string(pose.PoseQualityExcellent), rows[2].Quality)

	src, err := NewSessionSource(db, rec.SessionID())
	require.NoError(t, err)
	var replayed []landmarks.Frame
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		replayed = append(replayed, f)
	}
	require.Len(t, replayed, len(frames))
	for i := range frames {
		assert.True(t, frames[i].Timestamp.Equal(replayed[i].Timestamp))
		replayed[i].Timestamp = frames[i].Timestamp
	}
	if diff := cmp.Diff(frames, replayed); diff != "" {
		t.Errorf("replayed frames mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionSourcePaging(t *testing.T) {
	db := openTestDB(t)
	s, err := db.CreateSession("test", time.Unix(0, 0))
	require.NoError(t, err)

	n := sessionPageSize + 3
	for i := 0; i < n; i++ {
		require.NoError(t, db.InsertFrame(s.ID, testutil.SyntheticFrame(int64(i)), nil))
	}

	src, err := NewSessionSource(db, s.ID)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(i), f.Index)
	}
	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, io.EOF))
}

func TestSessionSourceUnknown(t *testing.T) {
	db := openTestDB(t)
	_, err := NewSessionSource(db, "nope")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestSessionSourceCancelled(t *testing.T) {
	db := openTestDB(t)
	s, err := db.CreateSession("test", time.Unix(0, 0))
	require.NoError(t, err)
	src, err := NewSessionSource(db, s.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDuplicateFrameRejected(t *testing.T) {
	db := openTestDB(t)
	s, err := db.CreateSession("test", time.Unix(0, 0))
	require.NoError(t, err)

	f := testutil.SyntheticFrame(1)
	require.NoError(t, db.InsertFrame(s.ID, f, testOutput(1, f.Timestamp)))
	assert.Error(t, db.InsertFrame(s.ID, f, testOutput(1, f.Timestamp)))

	rows, err := db.LoadOutputs(s.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBackupHandler(t *testing.T) {
	db := openTestDB(t)
	_, err := db.CreateSession("test", time.Unix(0, 0))
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	db.backupHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment")

	gz, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, len(data) > 16)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
