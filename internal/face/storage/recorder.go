package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/timeutil"
)

// Recorder persists every processed frame of one session.
type Recorder struct {
	db      *DB
	clock   timeutil.Clock
	session Session

	mu      sync.Mutex
	frames  int64
	emitted int64
	closed  bool
}

// NewRecorder opens a session tagged with source.
func NewRecorder(db *DB, source string, clock timeutil.Clock) (*Recorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s, err := db.CreateSession(source, clock.Now())
	if err != nil {
		return nil, err
	}
	return &Recorder{db: db, clock: clock, session: s}, nil
}

// SessionID returns the session being written.
func (r *Recorder) SessionID() string { return r.session.ID }

// RecordFrame stores frame and, when tracking succeeded, its output.
func (r *Recorder) RecordFrame(frame landmarks.Frame, out *pipeline.FrameOutput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("session %s is closed", r.session.ID)
	}
	if err := r.db.InsertFrame(r.session.ID, frame, out); err != nil {
		return err
	}
	r.frames++
	if out != nil {
		r.emitted++
	}
	return nil
}

// Close ends the session. Further RecordFrame calls fail.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.EndSession(r.session.ID, r.clock.Now(), r.frames, r.emitted)
}

const sessionPageSize = 256

// SessionSource replays the landmark frames of a stored session.
type SessionSource struct {
	db      *DB
	id      string
	pending []landmarks.Frame
	last    int64
	done    bool
}

// NewSessionSource checks that the session exists and returns a source over it.
func NewSessionSource(db *DB, sessionID string) (*SessionSource, error) {
	if _, err := db.GetSession(sessionID); err != nil {
		return nil, err
	}
	return &SessionSource{db: db, id: sessionID, last: -1}, nil
}

// Next returns the next stored frame, or io.EOF after the last one.
func (s *SessionSource) Next(ctx context.Context) (landmarks.Frame, error) {
	if err := ctx.Err(); err != nil {
		return landmarks.Frame{}, err
	}
	if len(s.pending) == 0 && !s.done {
		page, err := s.db.loadFrames(s.id, s.last, sessionPageSize)
		if err != nil {
			return landmarks.Frame{}, fmt.Errorf("load session %s: %w", s.id, err)
		}
		if len(page) < sessionPageSize {
			s.done = true
		}
		s.pending = page
	}
	if len(s.pending) == 0 {
		return landmarks.Frame{}, io.EOF
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	s.last = f.Index
	return f, nil
}
