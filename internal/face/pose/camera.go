package pose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// CameraIntrinsics is a pinhole model with zero lens distortion, derived from
// the frame size. It is rebuilt whenever the frame size changes or tracking
// restarts.
type CameraIntrinsics struct {
	Width  int
	Height int
	Fx, Fy float64
	Cx, Cy float64
}

// NewCameraIntrinsics approximates the focal length by the frame width
// (times focalScale) and puts the principal point at the frame centre.
func NewCameraIntrinsics(height, width int, focalScale float64) CameraIntrinsics {
	if focalScale <= 0 {
		focalScale = 1
	}
	f := float64(width) * focalScale
	return CameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     f,
		Fy:     f,
		Cx:     float64(width) / 2,
		Cy:     float64(height) / 2,
	}
}

// Matrix returns the 3x3 projection matrix K.
func (c CameraIntrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		c.Fx, 0, c.Cx,
		0, c.Fy, c.Cy,
		0, 0, 1,
	})
}

// Project maps a camera-frame point to pixels. The caller ensures p.Z > 0.
func (c CameraIntrinsics) Project(p r3.Vector) r2.Point {
	return r2.Point{
		X: c.Fx*p.X/p.Z + c.Cx,
		Y: c.Fy*p.Y/p.Z + c.Cy,
	}
}

// Normalize maps a pixel to normalized image coordinates (z = 1 plane).
func (c CameraIntrinsics) Normalize(p r2.Point) r2.Point {
	return r2.Point{
		X: (p.X - c.Cx) / c.Fx,
		Y: (p.Y - c.Cy) / c.Fy,
	}
}

// SameSize reports whether the intrinsics were built for a width x height frame.
func (c CameraIntrinsics) SameSize(height, width int) bool {
	return c.Width == width && c.Height == height
}
