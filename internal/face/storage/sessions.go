package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/google/uuid"
)

// Session is one recorded tracking run.
type Session struct {
	ID           string     `json:"session_id"`
	Source       string     `json:"source"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	FrameCount   int64      `json:"frame_count"`
	EmittedCount int64      `json:"emitted_count"`
}

// OutputRow is one stored output with its unstabilized counterpart.
type OutputRow struct {
	FrameIndex int64
	Timestamp  time.Time
	Values     [pipeline.NumOutputValues]float64
	Raw        [pipeline.NumOutputValues]float64
	RMSE       float64
	Quality    string
}

// CreateSession starts a new session and returns it.
func (db *DB) CreateSession(source string, startedAt time.Time) (Session, error) {
	s := Session{ID: uuid.NewString(), Source: source, StartedAt: startedAt}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, source, started_unix_nanos) VALUES (?, ?, ?)`,
		s.ID, s.Source, startedAt.UnixNano(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// EndSession stamps the end time and final counts.
func (db *DB) EndSession(id string, endedAt time.Time, frames, emitted int64) error {
	res, err := db.Exec(
		`UPDATE sessions SET ended_unix_nanos = ?, frame_count = ?, emitted_count = ? WHERE session_id = ?`,
		endedAt.UnixNano(), frames, emitted, id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

const sessionColumns = `session_id, source, started_unix_nanos, ended_unix_nanos, frame_count, emitted_count`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.Source, &started, &ended, &s.FrameCount, &s.EmittedCount); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		s.EndedAt = &t
	}
	return s, nil
}

// GetSession returns one session.
func (db *DB) GetSession(id string) (Session, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// ListSessions returns every session, newest first.
func (db *DB) ListSessions() ([]Session, error) {
	rows, err := db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_unix_nanos DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and all of its frames.
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec(`DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

var (
	outputColumns    = pipeline.OutputNames[:]
	rawOutputColumns = prefixed("raw_", pipeline.OutputNames[:])
	insertOutputSQL  = fmt.Sprintf(
		`INSERT INTO frame_outputs (session_id, frame_index, ts_unix_nanos, %s, %s, rmse_px, quality) VALUES (?, ?, ?%s, ?, ?)`,
		strings.Join(outputColumns, ", "), strings.Join(rawOutputColumns, ", "),
		strings.Repeat(", ?", 2*pipeline.NumOutputValues),
	)
	selectOutputSQL = fmt.Sprintf(
		`SELECT frame_index, ts_unix_nanos, %s, %s, rmse_px, quality FROM frame_outputs WHERE session_id = ? ORDER BY frame_index`,
		strings.Join(outputColumns, ", "), strings.Join(rawOutputColumns, ", "),
	)
)

func prefixed(prefix string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + n
	}
	return out
}

// InsertFrame stores a landmark frame and, when out is non-nil, its output,
// in one transaction.
func (db *DB) InsertFrame(sessionID string, frame landmarks.Frame, out *pipeline.FrameOutput) error {
	faces, err := json.Marshal(frame.Faces)
	if err != nil {
		return fmt.Errorf("encode faces: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO landmark_frames (session_id, frame_index, ts_unix_nanos, width, height, face_count, faces_json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, frame.Index, frame.Timestamp.UnixNano(), frame.Width, frame.Height, len(frame.Faces), string(faces),
	); err != nil {
		return fmt.Errorf("insert frame %d: %w", frame.Index, err)
	}

	if out != nil {
		args := make([]any, 0, 5+2*pipeline.NumOutputValues)
		args = append(args, sessionID, out.Index, out.Timestamp.UnixNano())
		for _, v := range out.Values() {
			args = append(args, v)
		}
		for _, v := range out.RawValues() {
			args = append(args, v)
		}
		args = append(args, out.RMSE, string(out.Quality))
		if _, err := tx.Exec(insertOutputSQL, args...); err != nil {
			return fmt.Errorf("insert output %d: %w", out.Index, err)
		}
	}
	return tx.Commit()
}

// LoadOutputs returns a session's outputs in frame order.
func (db *DB) LoadOutputs(sessionID string) ([]OutputRow, error) {
	rows, err := db.Query(selectOutputSQL, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutputRow
	for rows.Next() {
		var (
			r  OutputRow
			ts int64
		)
		dest := make([]any, 0, 4+2*pipeline.NumOutputValues)
		dest = append(dest, &r.FrameIndex, &ts)
		for i := range r.Values {
			dest = append(dest, &r.Values[i])
		}
		for i := range r.Raw {
			dest = append(dest, &r.Raw[i])
		}
		dest = append(dest, &r.RMSE, &r.Quality)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// loadFrames returns up to limit frames after frame index `after`.
func (db *DB) loadFrames(sessionID string, after int64, limit int) ([]landmarks.Frame, error) {
	rows, err := db.Query(
		`SELECT frame_index, ts_unix_nanos, width, height, faces_json FROM landmark_frames
		 WHERE session_id = ? AND frame_index > ? ORDER BY frame_index LIMIT ?`,
		sessionID, after, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []landmarks.Frame
	for rows.Next() {
		var (
			f     landmarks.Frame
			ts    int64
			faces string
		)
		if err := rows.Scan(&f.Index, &ts, &f.Width, &f.Height, &faces); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(faces), &f.Faces); err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", f.Index, err)
		}
		f.Timestamp = time.Unix(0, ts).UTC()
		frames = append(frames, f)
	}
	return frames, rows.Err()
}
