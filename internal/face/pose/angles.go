package pose

import (
	"math"

	"github.com/golang/geo/r3"
)

// MaxAngleDeg bounds every derived head angle.
const MaxAngleDeg = 90.0

// Angles are the avatar-facing head angles in degrees.
type Angles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// DeriveAngles converts a (stabilized) rotation vector to roll, pitch and yaw.
//
// The components are read directly off the axis-angle vector; this is not an
// Euler decomposition and is only meaningful near the frontal pose. Pitch is
// offset by 180° because the model's forward axis faces away from the camera.
func DeriveAngles(r r3.Vector) Angles {
	return Angles{
		Roll:  clampAngle(degrees(r.Y)),
		Pitch: clampAngle(-(180 + degrees(r.X))),
		Yaw:   clampAngle(degrees(r.Z)),
	}
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func clampAngle(v float64) float64 {
	return math.Max(-MaxAngleDeg, math.Min(MaxAngleDeg, v))
}
