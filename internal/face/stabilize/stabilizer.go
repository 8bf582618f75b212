// Package stabilize smooths noisy per-frame scalar signals with independent
// constant-velocity Kalman filters.
package stabilize

// StabilizerConfig holds the noise covariances of one channel.
type StabilizerConfig struct {
	ProcessNoise     float64 // Q = ProcessNoise·I over [value, rate]
	MeasurementNoise float64 // R
}

// DefaultStabilizerConfig returns the covariances used for every channel
// unless tuning overrides them.
func DefaultStabilizerConfig() StabilizerConfig {
	return StabilizerConfig{
		ProcessNoise:     0.1,
		MeasurementNoise: 0.1,
	}
}

// Stabilizer tracks one scalar with state [value, rate].
//
//	F = [1 1]    H = [1 0]
//	    [0 1]
//
// One Update is one tick. Calls must arrive in temporal order; there is no
// reordering protection.
type Stabilizer struct {
	config StabilizerConfig

	value  float64
	rate   float64
	p      [4]float64 // error covariance, row-major 2x2
	seeded bool
}

// NewStabilizer creates an unseeded filter.
func NewStabilizer(config StabilizerConfig) *Stabilizer {
	return &Stabilizer{config: config}
}

// Update feeds one measurement and returns the corrected value.
//
// The first measurement seeds the state (rate 0, zero covariance) and is
// returned unchanged. NaN or Inf measurements are not checked and poison the
// state.
func (s *Stabilizer) Update(measurement float64) float64 {
	if !s.seeded {
		s.value = measurement
		s.rate = 0
		s.p = [4]float64{}
		s.seeded = true
		return s.value
	}

	// Predict: x' = F x
	s.value += s.rate

	// P' = F P F^T + Q
	p00 := s.p[0] + s.p[1] + s.p[2] + s.p[3] + s.config.ProcessNoise
	p01 := s.p[1] + s.p[3]
	p10 := s.p[2] + s.p[3]
	p11 := s.p[3] + s.config.ProcessNoise

	// Correct: S = H P' H^T + R, K = P' H^T / S
	innovation := measurement - s.value
	sInv := 1 / (p00 + s.config.MeasurementNoise)
	k0 := p00 * sInv
	k1 := p10 * sInv

	s.value += k0 * innovation
	s.rate += k1 * innovation

	// P = (I - K H) P'
	s.p[0] = (1 - k0) * p00
	s.p[1] = (1 - k0) * p01
	s.p[2] = p10 - k1*p00
	s.p[3] = p11 - k1*p01

	return s.value
}

// Value returns the current estimate.
func (s *Stabilizer) Value() float64 { return s.value }

// Rate returns the current per-tick derivative estimate.
func (s *Stabilizer) Rate() float64 { return s.rate }

// Seeded reports whether the filter has seen a measurement since creation or
// the last Reset.
func (s *Stabilizer) Seeded() bool { return s.seeded }

// Covariance returns the 2x2 error covariance, row-major.
func (s *Stabilizer) Covariance() [4]float64 { return s.p }

// Reset returns the filter to its unseeded state.
func (s *Stabilizer) Reset() {
	s.value = 0
	s.rate = 0
	s.p = [4]float64{}
	s.seeded = false
}
