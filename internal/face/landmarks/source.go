package landmarks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Source yields detector frames in temporal order. Next returns io.EOF when
// the stream ends.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// maxLineBytes bounds one encoded frame: 478 points with three coordinates
// fit comfortably.
const maxLineBytes = 1 << 20

// JSONLSource reads newline-delimited JSON frames, one Frame per line.
// Blank lines are skipped.
type JSONLSource struct {
	scanner *bufio.Scanner
	line    int
	next    int64
}

// NewJSONLSource wraps r. Frames without an index are numbered in read order.
func NewJSONLSource(r io.Reader) *JSONLSource {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &JSONLSource{scanner: s}
}

// Next decodes the next frame.
func (s *JSONLSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Frame{}, fmt.Errorf("read landmark stream: %w", err)
			}
			return Frame{}, io.EOF
		}
		s.line++
		raw := s.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			return Frame{}, fmt.Errorf("decode landmark frame on line %d: %w", s.line, err)
		}
		if f.Index == 0 {
			f.Index = s.next
		}
		s.next = f.Index + 1
		return f, nil
	}
}

// SliceSource replays an in-memory frame list. Used by tests and the report
// tool.
type SliceSource struct {
	frames []Frame
	pos    int
}

// NewSliceSource returns a source over frames.
func NewSliceSource(frames []Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

// Next returns the next frame or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}
