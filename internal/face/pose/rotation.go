package pose

import (
	"math"

	"github.com/golang/geo/r3"
)

// Matrix3 is a 3x3 row-major matrix: m00,m01,m02, m10,...
type Matrix3 [9]float64

// Identity3 returns the identity rotation.
func Identity3() Matrix3 {
	return Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply returns m·v.
func (m Matrix3) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// Mul returns m·n.
func (m Matrix3) Mul(n Matrix3) Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = m[i*3+0]*n[0*3+j] + m[i*3+1]*n[1*3+j] + m[i*3+2]*n[2*3+j]
		}
	}
	return out
}

// Transpose returns mᵀ.
func (m Matrix3) Transpose() Matrix3 {
	return Matrix3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

// Det returns the determinant.
func (m Matrix3) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Rodrigues converts an axis-angle vector to a rotation matrix.
func Rodrigues(r r3.Vector) Matrix3 {
	theta := r.Norm()
	if theta < 1e-12 {
		// First-order: I + [r]x
		return Matrix3{
			1, -r.Z, r.Y,
			r.Z, 1, -r.X,
			-r.Y, r.X, 1,
		}
	}
	k := r.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return Matrix3{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	}
}

// RotationVector converts a rotation matrix to an axis-angle vector with
// angle in [0, π].
func RotationVector(m Matrix3) r3.Vector {
	cosTheta := (m[0] + m[4] + m[8] - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)

	// skew = 2 sin(θ) k
	skew := r3.Vector{X: m[7] - m[5], Y: m[2] - m[6], Z: m[3] - m[1]}

	if theta < 1e-9 {
		return skew.Mul(0.5)
	}

	sinTheta := math.Sin(theta)
	if sinTheta > 0.1 || theta < math.Pi/2 {
		return skew.Mul(theta / (2 * sinTheta))
	}

	// Near π the skew part vanishes; recover the axis from the symmetric part.
	oneMinusCos := 1 - cosTheta
	diag := [3]float64{
		math.Max(0, (m[0]-cosTheta)/oneMinusCos),
		math.Max(0, (m[4]-cosTheta)/oneMinusCos),
		math.Max(0, (m[8]-cosTheta)/oneMinusCos),
	}
	var k [3]float64
	switch {
	case diag[0] >= diag[1] && diag[0] >= diag[2]:
		k[0] = math.Sqrt(diag[0])
		k[1] = (m[1] + m[3]) / (2 * oneMinusCos * k[0])
		k[2] = (m[2] + m[6]) / (2 * oneMinusCos * k[0])
	case diag[1] >= diag[2]:
		k[1] = math.Sqrt(diag[1])
		k[0] = (m[1] + m[3]) / (2 * oneMinusCos * k[1])
		k[2] = (m[5] + m[7]) / (2 * oneMinusCos * k[1])
	default:
		k[2] = math.Sqrt(diag[2])
		k[0] = (m[2] + m[6]) / (2 * oneMinusCos * k[2])
		k[1] = (m[5] + m[7]) / (2 * oneMinusCos * k[2])
	}
	axis := r3.Vector{X: k[0], Y: k[1], Z: k[2]}.Normalize()
	if axis.Dot(skew) < 0 {
		axis = axis.Mul(-1)
	}
	return axis.Mul(theta)
}

// CanonicalRotation returns the axis-angle vector equivalent to r whose x
// component is not positive. The face model's forward axis points away from
// the camera, so a frontal face sits near (−π, 0, 0); keeping x ≤ 0 avoids
// the ±π flip there and keeps every derived channel continuous.
func CanonicalRotation(r r3.Vector) r3.Vector {
	if r.X <= 0 {
		return r
	}
	theta := r.Norm()
	return r.Mul((theta - 2*math.Pi) / theta)
}

// RotationAngleBetween returns the angle in radians of the relative rotation
// aᵀ·b.
func RotationAngleBetween(a, b Matrix3) float64 {
	rel := a.Transpose().Mul(b)
	c := (rel[0] + rel[4] + rel[8] - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, c)))
}
