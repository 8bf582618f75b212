package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/banshee-data/facetrack/internal/timeutil"
)

// OutputSink receives every emitted frame. Send must not block the frame
// loop; slow sinks buffer or drop.
type OutputSink interface {
	Send(out FrameOutput)
}

// SinkFunc adapts a function to OutputSink.
type SinkFunc func(out FrameOutput)

// Send calls f(out).
func (f SinkFunc) Send(out FrameOutput) { f(out) }

// FrameRecorder persists each input frame with its output. out is nil for
// frames that emitted nothing.
type FrameRecorder interface {
	RecordFrame(frame landmarks.Frame, out *FrameOutput) error
}

// Runner pulls frames from a Source through a Tracker.
type Runner struct {
	tracker  *Tracker
	source   landmarks.Source
	sinks    []OutputSink
	recorder FrameRecorder
	clock    timeutil.Clock
	period   time.Duration
}

// NewRunner wires a tracker to a source and any number of sinks.
func NewRunner(tracker *Tracker, source landmarks.Source, sinks ...OutputSink) *Runner {
	return &Runner{
		tracker: tracker,
		source:  source,
		sinks:   sinks,
		clock:   tracker.config.Clock,
	}
}

// SetRecorder attaches a recorder. Recording errors are logged, not fatal.
func (r *Runner) SetRecorder(rec FrameRecorder) { r.recorder = rec }

// SetFramePeriod paces replay sources to one frame per period. Zero runs
// as fast as the source delivers.
func (r *Runner) SetFramePeriod(d time.Duration) { r.period = d }

// Run processes frames until the source is exhausted (returns nil) or ctx
// is cancelled (returns ctx.Err()).
func (r *Runner) Run(ctx context.Context) error {
	for {
		frame, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		r.Step(frame)

		if r.period > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(r.period):
			}
		}
	}
}

// Step processes a single frame and delivers its output. It returns the
// output, or nil when nothing was emitted.
func (r *Runner) Step(frame landmarks.Frame) *FrameOutput {
	out, err := r.tracker.ProcessFrame(frame)
	switch {
	case err == nil:
	case errors.Is(err, ErrPoseRejected):
		monitoring.Debugf("runner: %v", err)
	default:
		monitoring.Logf("runner: %v", err)
	}

	if r.recorder != nil {
		if rerr := r.recorder.RecordFrame(frame, out); rerr != nil {
			monitoring.Logf("runner: record frame %d: %v", frame.Index, rerr)
		}
	}
	if out != nil {
		for _, s := range r.sinks {
			s.Send(*out)
		}
	}
	return out
}
