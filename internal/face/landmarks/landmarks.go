// Package landmarks defines the per-frame landmark data handed to the face
// tracking pipeline by an external detector.
//
// Faces use the MediaPipe FaceMesh ordering: 468 points, or 478 when iris
// refinement is enabled. Index i always names the same semantic landmark.
package landmarks

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/r2"
)

// FaceMesh sizes.
const (
	NumFaceMesh        = 468
	NumFaceMeshRefined = 478
)

// Landmark indices used by the pose model and the feature extractor.
// "Right" and "left" are the subject's, so the right eye appears on the
// image's left.
const (
	Forehead   = 10
	NoseTip    = 1
	NoseBridge = 168
	Chin       = 152

	RightEyeOuter   = 33
	RightEyeInner   = 133
	RightEyeTop1    = 160
	RightEyeTop2    = 158
	RightEyeBottom1 = 144
	RightEyeBottom2 = 153

	LeftEyeOuter   = 263
	LeftEyeInner   = 362
	LeftEyeTop1    = 385
	LeftEyeTop2    = 387
	LeftEyeBottom1 = 380
	LeftEyeBottom2 = 373

	RightBrow = 70
	LeftBrow  = 300

	RightCheek = 234
	LeftCheek  = 454

	MouthRight = 61
	MouthLeft  = 291
	UpperLip   = 13
	LowerLip   = 14
	UpperLipR  = 81
	LowerLipR  = 178
	UpperLipL  = 311
	LowerLipL  = 402

	// Present only on refined meshes.
	RightIrisCenter = 468
	LeftIrisCenter  = 473
)

// ErrShortFace is returned when a face has fewer points than a consumer needs.
var ErrShortFace = errors.New("face has too few landmarks")

// Point is one landmark in image pixel coordinates. Z is the detector's
// relative depth and is ignored by the pose solver.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// XY drops the depth component.
func (p Point) XY() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// Face is the ordered landmark set of one detected face.
type Face []Point

// Has reports whether index i is present.
func (f Face) Has(i int) bool {
	return i >= 0 && i < len(f)
}

// Refined reports whether the face carries iris landmarks.
func (f Face) Refined() bool {
	return len(f) >= NumFaceMeshRefined
}

// Frame is the detector output for one camera frame.
type Frame struct {
	Index     int64     `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Faces     []Face    `json:"faces"`
}

// HasFace reports whether the detector found anything in this frame.
func (f Frame) HasFace() bool {
	return len(f.Faces) > 0
}

// Observation is an ordered set of 2D image points, index-aligned with a
// pose model.
type Observation []r2.Point

// Gather builds an Observation by picking indices out of a face.
func Gather(face Face, indices []int) (Observation, error) {
	obs := make(Observation, len(indices))
	for i, idx := range indices {
		if !face.Has(idx) {
			return nil, fmt.Errorf("%w: need index %d, have %d points", ErrShortFace, idx, len(face))
		}
		obs[i] = face[idx].XY()
	}
	return obs, nil
}

// SelectionPolicy chooses at most one face from a detector frame.
type SelectionPolicy func(faces []Face) (Face, bool)

// SelectFirst takes the first detected face, matching detectors that order
// faces by confidence.
func SelectFirst(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return nil, false
	}
	return faces[0], true
}

// SelectLargest takes the face with the widest landmark bounding box.
func SelectLargest(faces []Face) (Face, bool) {
	var best Face
	bestWidth := -1.0
	for _, f := range faces {
		if len(f) == 0 {
			continue
		}
		minX, maxX := f[0].X, f[0].X
		for _, p := range f[1:] {
			if p.X < minX {
				minX = p.X
			}
			if p.X > maxX {
				maxX = p.X
			}
		}
		if w := maxX - minX; w > bestWidth {
			best, bestWidth = f, w
		}
	}
	return best, best != nil
}
