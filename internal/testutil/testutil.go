// Package testutil holds assertion helpers and synthetic landmark fixtures
// shared by the face tracking tests.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/golang/geo/r2"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertNear fails the test if got is further than tol from want.
func AssertNear(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > tol {
		t.Errorf("got %v, want %v ± %v", got, want, tol)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Synthetic face layout, in pixels of a 640x480 frame. Eyes are open with an
// aspect ratio of 0.3 and the irises are centred; the mouth is 60px wide with
// an aspect ratio of 2/9.
var syntheticLayout = map[int]r2.Point{
	landmarks.RightEyeOuter:   {X: 260, Y: 200},
	landmarks.RightEyeInner:   {X: 300, Y: 200},
	landmarks.RightEyeTop1:    {X: 270, Y: 194},
	landmarks.RightEyeTop2:    {X: 290, Y: 194},
	landmarks.RightEyeBottom1: {X: 270, Y: 206},
	landmarks.RightEyeBottom2: {X: 290, Y: 206},

	landmarks.LeftEyeOuter:   {X: 380, Y: 200},
	landmarks.LeftEyeInner:   {X: 340, Y: 200},
	landmarks.LeftEyeTop1:    {X: 370, Y: 194},
	landmarks.LeftEyeTop2:    {X: 350, Y: 194},
	landmarks.LeftEyeBottom1: {X: 370, Y: 206},
	landmarks.LeftEyeBottom2: {X: 350, Y: 206},

	landmarks.MouthRight: {X: 290, Y: 300},
	landmarks.MouthLeft:  {X: 350, Y: 300},
	landmarks.UpperLip:   {X: 320, Y: 295},
	landmarks.LowerLip:   {X: 320, Y: 311},
	landmarks.UpperLipR:  {X: 305, Y: 296},
	landmarks.LowerLipR:  {X: 305, Y: 308},
	landmarks.UpperLipL:  {X: 335, Y: 296},
	landmarks.LowerLipL:  {X: 335, Y: 308},
}

// Expression values of SyntheticFace.
const (
	SyntheticEAR           = 0.3
	SyntheticMouthDistance = 60.0
	SyntheticMAR           = 40.0 / 180.0
)

// SyntheticFace returns a full FaceMesh face with the fixed layout above.
// Unlisted landmarks sit at the frame centre. With refined set the face
// carries iris centres as well.
func SyntheticFace(refined bool) landmarks.Face {
	n := landmarks.NumFaceMesh
	if refined {
		n = landmarks.NumFaceMeshRefined
	}
	face := make(landmarks.Face, n)
	for i := range face {
		face[i] = landmarks.Point{X: 320, Y: 240}
	}
	for idx, p := range syntheticLayout {
		face[idx] = landmarks.Point{X: p.X, Y: p.Y}
	}
	if refined {
		face[landmarks.RightIrisCenter] = landmarks.Point{X: 280, Y: 200}
		face[landmarks.LeftIrisCenter] = landmarks.Point{X: 360, Y: 200}
	}
	return face
}

// PlacePoints overwrites face[indices[i]] with pts[i].
func PlacePoints(face landmarks.Face, indices []int, pts []r2.Point) {
	for i, idx := range indices {
		face[idx] = landmarks.Point{X: pts[i].X, Y: pts[i].Y}
	}
}

// SyntheticFrame wraps faces in a 640x480 frame stamped at a fixed epoch plus
// index frames of 1/30s.
func SyntheticFrame(index int64, faces ...landmarks.Face) landmarks.Frame {
	return landmarks.Frame{
		Index:     index,
		Timestamp: time.Unix(1700000000, 0).UTC().Add(time.Duration(index) * time.Second / 30),
		Width:     640,
		Height:    480,
		Faces:     faces,
	}
}
