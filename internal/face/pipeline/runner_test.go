package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedFrame struct {
	index   int64
	emitted bool
}

type fakeRecorder struct {
	mu     sync.Mutex
	frames []recordedFrame
	err    error
}

func (r *fakeRecorder) RecordFrame(frame landmarks.Frame, out *FrameOutput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, recordedFrame{index: frame.Index, emitted: out != nil})
	return r.err
}

type errSource struct{ err error }

func (s errSource) Next(context.Context) (landmarks.Frame, error) {
	return landmarks.Frame{}, s.err
}

func TestRunnerDeliversFrames(t *testing.T) {
	face := faceAt(t, testPose(r3.Vector{Y: 0.1}, r3.Vector{Z: 3000}), 640, 480)
	src := landmarks.NewSliceSource([]landmarks.Frame{
		frameWith(0, face),
		frameWith(1),
		frameWith(2, face),
		frameWith(3, face),
	})

	var got []int64
	sink := SinkFunc(func(out FrameOutput) { got = append(got, out.Index) })
	rec := &fakeRecorder{}

	r := NewRunner(newTestTracker(), src, sink)
	r.SetRecorder(rec)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []int64{0, 2, 3}, got)
	assert.Equal(t, []recordedFrame{{0, true}, {1, false}, {2, true}, {3, true}}, rec.frames)
}

func TestRunnerRecorderErrorsAreLogged(t *testing.T) {
	var logged []string
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	src := landmarks.NewSliceSource([]landmarks.Frame{frameWith(0)})
	r := NewRunner(newTestTracker(), src)
	r.SetRecorder(&fakeRecorder{err: errors.New("disk full")})

	require.NoError(t, r.Run(context.Background()))
	assert.NotEmpty(t, logged)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(newTestTracker(), landmarks.NewSliceSource([]landmarks.Frame{frameWith(0)}))
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerSourceError(t *testing.T) {
	r := NewRunner(newTestTracker(), errSource{err: errors.New("socket closed")})
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read frame")
}

func TestRunnerFramePeriod(t *testing.T) {
	frames := make([]landmarks.Frame, 3)
	for i := range frames {
		frames[i] = frameWith(int64(i))
	}
	r := NewRunner(newTestTracker(), landmarks.NewSliceSource(frames))
	r.SetFramePeriod(5 * time.Millisecond)

	start := time.Now()
	require.NoError(t, r.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
