package pose

import (
	"errors"
	"fmt"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/golang/geo/r3"
)

// MinModelPoints is the smallest model the direct linear seed can solve.
const MinModelPoints = 6

// ModelPoint is one canonical 3D landmark and the detector index it pairs with.
type ModelPoint struct {
	Name     string
	Landmark int
	Position r3.Vector
}

// FaceModel is an immutable ordered set of canonical head points.
//
// Coordinate frame: x toward the image's right, y up, z toward the camera,
// nose tip at the origin. A face looking straight into the camera is
// therefore rotated by π about x relative to the camera frame.
type FaceModel struct {
	points []ModelPoint
}

// NewFaceModel validates and copies points into a model.
func NewFaceModel(points []ModelPoint) (FaceModel, error) {
	if len(points) < MinModelPoints {
		return FaceModel{}, fmt.Errorf("face model needs at least %d points, got %d", MinModelPoints, len(points))
	}
	seen := make(map[int]string, len(points))
	for _, p := range points {
		if p.Landmark < 0 {
			return FaceModel{}, fmt.Errorf("model point %q has negative landmark index", p.Name)
		}
		if other, dup := seen[p.Landmark]; dup {
			return FaceModel{}, fmt.Errorf("model points %q and %q share landmark %d", other, p.Name, p.Landmark)
		}
		seen[p.Landmark] = p.Name
	}
	cp := make([]ModelPoint, len(points))
	copy(cp, points)
	return FaceModel{points: cp}, nil
}

// Anthropometric head points in model units (roughly 0.2 mm).
var defaultModelPoints = []ModelPoint{
	{"nose_tip", landmarks.NoseTip, r3.Vector{X: 0, Y: 0, Z: 0}},
	{"nose_bridge", landmarks.NoseBridge, r3.Vector{X: 0, Y: 170, Z: -110}},
	{"forehead", landmarks.Forehead, r3.Vector{X: 0, Y: 400, Z: -120}},
	{"chin", landmarks.Chin, r3.Vector{X: 0, Y: -330, Z: -65}},
	{"right_eye_outer", landmarks.RightEyeOuter, r3.Vector{X: -225, Y: 170, Z: -135}},
	{"right_eye_inner", landmarks.RightEyeInner, r3.Vector{X: -80, Y: 165, Z: -125}},
	{"left_eye_inner", landmarks.LeftEyeInner, r3.Vector{X: 80, Y: 165, Z: -125}},
	{"left_eye_outer", landmarks.LeftEyeOuter, r3.Vector{X: 225, Y: 170, Z: -135}},
	{"right_brow", landmarks.RightBrow, r3.Vector{X: -230, Y: 260, Z: -120}},
	{"left_brow", landmarks.LeftBrow, r3.Vector{X: 230, Y: 260, Z: -120}},
	{"right_cheek", landmarks.RightCheek, r3.Vector{X: -350, Y: 60, Z: -330}},
	{"left_cheek", landmarks.LeftCheek, r3.Vector{X: 350, Y: 60, Z: -330}},
	{"mouth_right", landmarks.MouthRight, r3.Vector{X: -150, Y: -150, Z: -125}},
	{"mouth_left", landmarks.MouthLeft, r3.Vector{X: 150, Y: -150, Z: -125}},
	{"upper_lip", landmarks.UpperLip, r3.Vector{X: 0, Y: -120, Z: -85}},
	{"lower_lip", landmarks.LowerLip, r3.Vector{X: 0, Y: -190, Z: -90}},
}

// DefaultFaceModel returns the built-in head model.
func DefaultFaceModel() FaceModel {
	m, err := NewFaceModel(defaultModelPoints)
	if err != nil {
		panic(err) // built-in table is static
	}
	return m
}

// Len returns the number of model points.
func (m FaceModel) Len() int { return len(m.points) }

// Point returns model point i.
func (m FaceModel) Point(i int) ModelPoint { return m.points[i] }

// Positions returns the 3D positions in model order.
func (m FaceModel) Positions() []r3.Vector {
	out := make([]r3.Vector, len(m.points))
	for i, p := range m.points {
		out[i] = p.Position
	}
	return out
}

// Indices returns the detector landmark indices in model order.
func (m FaceModel) Indices() []int {
	out := make([]int, len(m.points))
	for i, p := range m.points {
		out[i] = p.Landmark
	}
	return out
}

// Observe gathers the model's landmarks out of a detected face.
func (m FaceModel) Observe(face landmarks.Face) (landmarks.Observation, error) {
	return landmarks.Gather(face, m.Indices())
}

var errEmptyModel = errors.New("face model is empty")

// centroidAndScale returns the centroid and the mean distance from it.
func (m FaceModel) centroidAndScale() (r3.Vector, float64, error) {
	if len(m.points) == 0 {
		return r3.Vector{}, 0, errEmptyModel
	}
	var c r3.Vector
	for _, p := range m.points {
		c = c.Add(p.Position)
	}
	c = c.Mul(1 / float64(len(m.points)))
	var d float64
	for _, p := range m.points {
		d += p.Position.Sub(c).Norm()
	}
	return c, d / float64(len(m.points)), nil
}
