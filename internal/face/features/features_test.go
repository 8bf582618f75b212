package features

import (
	"errors"
	"testing"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestExtractSyntheticFace(t *testing.T) {
	for _, refined := range []bool{false, true} {
		got, err := NewExtractor().Extract(testutil.SyntheticFace(refined))
		testutil.AssertNoError(t, err)

		want := Expression{
			EARLeft:       testutil.SyntheticEAR,
			EARRight:      testutil.SyntheticEAR,
			IrisXLeft:     0.5,
			IrisYLeft:     0.5,
			IrisXRight:    0.5,
			IrisYRight:    0.5,
			MAR:           testutil.SyntheticMAR,
			MouthDistance: testutil.SyntheticMouthDistance,
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("refined=%v expression mismatch (-want +got):\n%s", refined, diff)
		}
	}
}

func TestExtractBlink(t *testing.T) {
	face := testutil.SyntheticFace(false)
	for _, idx := range []int{landmarks.LeftEyeTop1, landmarks.LeftEyeTop2, landmarks.LeftEyeBottom1, landmarks.LeftEyeBottom2} {
		face[idx].Y = 200
	}
	got, err := NewExtractor().Extract(face)
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, got.EARLeft, 0, 1e-12)
	testutil.AssertNear(t, got.EARRight, testutil.SyntheticEAR, 1e-12)
}

func TestExtractGaze(t *testing.T) {
	face := testutil.SyntheticFace(true)
	face[landmarks.RightIrisCenter] = landmarks.Point{X: 290, Y: 203}

	got, err := NewExtractor().Extract(face)
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, got.IrisXRight, 0.75, 1e-12)
	testutil.AssertNear(t, got.IrisYRight, 0.75, 1e-12)
	testutil.AssertNear(t, got.IrisXLeft, 0.5, 1e-12)
}

func TestExtractOpenMouth(t *testing.T) {
	face := testutil.SyntheticFace(false)
	face[landmarks.LowerLip].Y += 14
	face[landmarks.LowerLipR].Y += 14
	face[landmarks.LowerLipL].Y += 14

	got, err := NewExtractor().Extract(face)
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, got.MAR, 82.0/180.0, 1e-12)
	testutil.AssertNear(t, got.MouthDistance, 60, 1e-12)
}

func TestExtractDegenerateGeometry(t *testing.T) {
	face := make(landmarks.Face, landmarks.NumFaceMesh)
	got, err := NewExtractor().Extract(face)
	testutil.AssertNoError(t, err)
	if got.EARLeft != 0 || got.MAR != 0 || got.IrisXLeft != 0.5 {
		t.Errorf("collapsed face gave %+v", got)
	}
}

func TestExtractShortFace(t *testing.T) {
	_, err := NewExtractor().Extract(make(landmarks.Face, 100))
	testutil.AssertError(t, err)
	if !errors.Is(err, landmarks.ErrShortFace) {
		t.Errorf("err = %v, want ErrShortFace", err)
	}
}

func TestExpressionChannels(t *testing.T) {
	e := Expression{EARLeft: 1, EARRight: 2, IrisXLeft: 3, IrisYLeft: 4, IrisXRight: 5, IrisYRight: 6, MAR: 9, MouthDistance: 7}
	if diff := cmp.Diff([]float64{1, 2, 3, 4, 5, 6, 7}, e.Channels()); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}

	got, err := e.WithChannels([]float64{10, 20, 30, 40, 50, 60, 70})
	testutil.AssertNoError(t, err)
	if got.MAR != 9 || got.MouthDistance != 70 || got.EARLeft != 10 {
		t.Errorf("WithChannels = %+v", got)
	}

	_, err = e.WithChannels([]float64{1})
	testutil.AssertError(t, err)
}
