// Package monitor keeps a rolling history of raw and stabilized output
// channels and renders it as jitter statistics, HTML charts and PNG plots.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/face/storage"
)

// DefaultCapacity holds about ten seconds at 30 fps.
const DefaultCapacity = 300

// Sample is one emitted frame's output vector and its unstabilized twin.
type Sample struct {
	Index     int64
	Timestamp time.Time
	Values    [pipeline.NumOutputValues]float64
	Raw       [pipeline.NumOutputValues]float64
}

// SampleFromOutput captures out.
func SampleFromOutput(out pipeline.FrameOutput) Sample {
	return Sample{
		Index:     out.Index,
		Timestamp: out.Timestamp,
		Values:    out.Values(),
		Raw:       out.RawValues(),
	}
}

// SamplesFromRows converts stored outputs.
func SamplesFromRows(rows []storage.OutputRow) []Sample {
	out := make([]Sample, len(rows))
	for i, r := range rows {
		out[i] = Sample{Index: r.FrameIndex, Timestamp: r.Timestamp, Values: r.Values, Raw: r.Raw}
	}
	return out
}

// ChannelIndex resolves an output name such as "yaw" to its position.
func ChannelIndex(name string) (int, error) {
	for i, n := range pipeline.OutputNames {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}

// ChannelRecorder is a fixed-size ring of recent samples. It is an
// OutputSink and safe for concurrent use.
type ChannelRecorder struct {
	mu   sync.Mutex
	buf  []Sample
	next int
	full bool
}

// NewChannelRecorder keeps the last capacity samples.
func NewChannelRecorder(capacity int) *ChannelRecorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ChannelRecorder{buf: make([]Sample, capacity)}
}

// Send records out.
func (c *ChannelRecorder) Send(out pipeline.FrameOutput) {
	c.Add(SampleFromOutput(out))
}

// Add appends s, evicting the oldest sample when full.
func (c *ChannelRecorder) Add(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf[c.next] = s
	c.next = (c.next + 1) % len(c.buf)
	if c.next == 0 {
		c.full = true
	}
}

// Len returns the number of samples held.
func (c *ChannelRecorder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return len(c.buf)
	}
	return c.next
}

// Snapshot returns the held samples oldest first.
func (c *ChannelRecorder) Snapshot() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full {
		out := make([]Sample, c.next)
		copy(out, c.buf[:c.next])
		return out
	}
	out := make([]Sample, 0, len(c.buf))
	out = append(out, c.buf[c.next:]...)
	return append(out, c.buf[:c.next]...)
}

// Reset drops every sample.
func (c *ChannelRecorder) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = 0
	c.full = false
}
