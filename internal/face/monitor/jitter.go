package monitor

import (
	"math"

	"github.com/banshee-data/facetrack/internal/face/pipeline"
)

// Jitter is the RMS of frame-to-frame differences. It is zero for fewer
// than two values.
func Jitter(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// Series extracts one channel from samples.
func Series(samples []Sample, channel int, raw bool) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		if raw {
			out[i] = s.Raw[channel]
		} else {
			out[i] = s.Values[channel]
		}
	}
	return out
}

// ChannelJitter compares the raw and stabilized jitter of one channel.
type ChannelJitter struct {
	Name       string  `json:"name"`
	Raw        float64 `json:"raw"`
	Stabilized float64 `json:"stabilized"`
	// Reduction is 1 - stabilized/raw; zero when raw is zero.
	Reduction float64 `json:"reduction"`
}

// JitterReport computes ChannelJitter for every output channel.
func JitterReport(samples []Sample) []ChannelJitter {
	out := make([]ChannelJitter, pipeline.NumOutputValues)
	for i, name := range pipeline.OutputNames {
		raw := Jitter(Series(samples, i, true))
		stab := Jitter(Series(samples, i, false))
		cj := ChannelJitter{Name: name, Raw: raw, Stabilized: stab}
		if raw > 0 {
			cj.Reduction = 1 - stab/raw
		}
		out[i] = cj
	}
	return out
}
