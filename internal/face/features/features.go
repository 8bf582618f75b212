// Package features computes the expression scalars driven alongside head
// pose: eye openness, gaze, and mouth shape. Everything is derived from
// landmark geometry in pixels.
package features

import (
	"fmt"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/golang/geo/r2"
)

// Expression is one frame's raw expression scalars.
type Expression struct {
	EARLeft       float64 `json:"ear_left"`
	EARRight      float64 `json:"ear_right"`
	IrisXLeft     float64 `json:"iris_x_left"`
	IrisYLeft     float64 `json:"iris_y_left"`
	IrisXRight    float64 `json:"iris_x_right"`
	IrisYRight    float64 `json:"iris_y_right"`
	MAR           float64 `json:"mar"`
	MouthDistance float64 `json:"mouth_distance"`
}

// Channels returns the seven stabilized expression channels in bank order.
// MAR is passed through raw and is not included.
func (e Expression) Channels() []float64 {
	return []float64{
		e.EARLeft, e.EARRight,
		e.IrisXLeft, e.IrisYLeft,
		e.IrisXRight, e.IrisYRight,
		e.MouthDistance,
	}
}

// WithChannels returns a copy of e with the stabilized channels substituted.
func (e Expression) WithChannels(v []float64) (Expression, error) {
	if len(v) != 7 {
		return e, fmt.Errorf("expression needs 7 channels, got %d", len(v))
	}
	e.EARLeft, e.EARRight = v[0], v[1]
	e.IrisXLeft, e.IrisYLeft = v[2], v[3]
	e.IrisXRight, e.IrisYRight = v[4], v[5]
	e.MouthDistance = v[6]
	return e, nil
}

type eye struct {
	outer, inner     int
	top1, top2       int
	bottom1, bottom2 int
	iris             int
}

var (
	rightEye = eye{
		outer: landmarks.RightEyeOuter, inner: landmarks.RightEyeInner,
		top1: landmarks.RightEyeTop1, top2: landmarks.RightEyeTop2,
		bottom1: landmarks.RightEyeBottom1, bottom2: landmarks.RightEyeBottom2,
		iris: landmarks.RightIrisCenter,
	}
	leftEye = eye{
		outer: landmarks.LeftEyeOuter, inner: landmarks.LeftEyeInner,
		top1: landmarks.LeftEyeTop1, top2: landmarks.LeftEyeTop2,
		bottom1: landmarks.LeftEyeBottom1, bottom2: landmarks.LeftEyeBottom2,
		iris: landmarks.LeftIrisCenter,
	}
)

func (e eye) lid() []int {
	return []int{e.outer, e.top1, e.top2, e.inner, e.bottom2, e.bottom1}
}

// Extractor computes Expression values from a FaceMesh face.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract computes every expression scalar for face. Faces without iris
// refinement fall back to the eyelid centroid for gaze, which reads as
// looking straight ahead.
func (x *Extractor) Extract(face landmarks.Face) (Expression, error) {
	if len(face) < landmarks.NumFaceMesh {
		return Expression{}, fmt.Errorf("%w: expression needs %d points, have %d", landmarks.ErrShortFace, landmarks.NumFaceMesh, len(face))
	}

	var out Expression
	out.EARLeft = eyeAspectRatio(face, leftEye)
	out.EARRight = eyeAspectRatio(face, rightEye)
	out.IrisXLeft, out.IrisYLeft = irisRatio(face, leftEye)
	out.IrisXRight, out.IrisYRight = irisRatio(face, rightEye)
	out.MAR = MouthAspectRatio(face)
	out.MouthDistance = MouthDistance(face)
	return out, nil
}

func dist(face landmarks.Face, a, b int) float64 {
	return face[a].XY().Sub(face[b].XY()).Norm()
}

// eyeAspectRatio is (|p2−p6| + |p3−p5|) / (2|p1−p4|) over the six eyelid
// points. It is near 0.3 for an open eye and falls toward 0 on a blink.
func eyeAspectRatio(face landmarks.Face, e eye) float64 {
	width := dist(face, e.outer, e.inner)
	if width == 0 {
		return 0
	}
	return (dist(face, e.top1, e.bottom1) + dist(face, e.top2, e.bottom2)) / (2 * width)
}

// irisRatio locates the iris within the eye's bounding box: (0, 0) is the
// box's top-left in image space and (1, 1) its bottom-right.
func irisRatio(face landmarks.Face, e eye) (float64, float64) {
	lid := e.lid()
	minP, maxP := face[lid[0]].XY(), face[lid[0]].XY()
	var centroid r2.Point
	for _, i := range lid {
		p := face[i].XY()
		centroid = centroid.Add(p)
		minP.X, minP.Y = min(minP.X, p.X), min(minP.Y, p.Y)
		maxP.X, maxP.Y = max(maxP.X, p.X), max(maxP.Y, p.Y)
	}
	iris := centroid.Mul(1 / float64(len(lid)))
	if face.Has(e.iris) {
		iris = face[e.iris].XY()
	}
	return ratio(iris.X, minP.X, maxP.X), ratio(iris.Y, minP.Y, maxP.Y)
}

func ratio(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0.5
	}
	return (v - lo) / (hi - lo)
}

// MouthAspectRatio is the mean of three vertical lip gaps over the mouth
// width.
func MouthAspectRatio(face landmarks.Face) float64 {
	width := MouthDistance(face)
	if width == 0 {
		return 0
	}
	gaps := dist(face, landmarks.UpperLipR, landmarks.LowerLipR) +
		dist(face, landmarks.UpperLip, landmarks.LowerLip) +
		dist(face, landmarks.UpperLipL, landmarks.LowerLipL)
	return gaps / (3 * width)
}

// MouthDistance is the pixel distance between the mouth corners.
func MouthDistance(face landmarks.Face) float64 {
	return dist(face, landmarks.MouthRight, landmarks.MouthLeft)
}
