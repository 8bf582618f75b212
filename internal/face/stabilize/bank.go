package stabilize

import (
	"errors"
	"fmt"
)

// Channel counts of the two banks the tracker owns.
const (
	PoseChannels       = 6 // rx, ry, rz, tx, ty, tz
	ExpressionChannels = 7 // ear_l, ear_r, iris_xl, iris_yl, iris_xr, iris_yr, mouth_dist
)

// ErrChannelCount is returned when a measurement vector does not match the
// bank width. It is a caller bug, not a runtime condition.
var ErrChannelCount = errors.New("stabilizer bank channel count mismatch")

// Bank owns one Stabilizer per channel and keeps input and output vectors
// index-aligned. Channels never share state.
type Bank struct {
	channels []*Stabilizer
}

// NewBank creates a bank of n independent channels with the same config.
func NewBank(n int, config StabilizerConfig) *Bank {
	b := &Bank{channels: make([]*Stabilizer, n)}
	for i := range b.channels {
		b.channels[i] = NewStabilizer(config)
	}
	return b
}

// Len returns the channel count.
func (b *Bank) Len() int { return len(b.channels) }

// Update stabilizes values index-wise and returns a fresh output slice.
// A length mismatch returns ErrChannelCount and leaves every channel untouched.
func (b *Bank) Update(values []float64) ([]float64, error) {
	if len(values) != len(b.channels) {
		return nil, fmt.Errorf("%w: got %d values, bank has %d channels", ErrChannelCount, len(values), len(b.channels))
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = b.channels[i].Update(v)
	}
	return out, nil
}

// Values returns the current estimate of every channel without updating.
func (b *Bank) Values() []float64 {
	out := make([]float64, len(b.channels))
	for i, s := range b.channels {
		out[i] = s.Value()
	}
	return out
}

// Channel exposes one channel's filter for inspection.
func (b *Bank) Channel(i int) *Stabilizer {
	return b.channels[i]
}

// Reset unseeds every channel.
func (b *Bank) Reset() {
	for _, s := range b.channels {
		s.Reset()
	}
}
