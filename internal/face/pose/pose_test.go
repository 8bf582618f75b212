package pose

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWidth  = 640
	testHeight = 480
)

// frontalPose faces the camera, turned slightly by the given small rotation.
func frontalPose(small r3.Vector, t r3.Vector) Pose {
	m := Rodrigues(r3.Vector{X: -math.Pi}).Mul(Rodrigues(small))
	return Pose{Rotation: RotationVector(m), Translation: t}
}

func synthesize(t *testing.T, s *Solver, p Pose, noisePx float64, rng *rand.Rand) landmarks.Observation {
	t.Helper()
	pts := s.Project(p)
	for i := range pts {
		require.Greater(t, pts[i].X, 0.0)
		require.Less(t, pts[i].X, float64(testWidth))
		if noisePx > 0 {
			pts[i] = pts[i].Add(r2.Point{X: rng.NormFloat64() * noisePx, Y: rng.NormFloat64() * noisePx})
		}
	}
	return landmarks.Observation(pts)
}

func TestSolveRecoversKnownPose(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		small r3.Vector
		trans r3.Vector
	}{
		{"frontal", r3.Vector{}, r3.Vector{X: 0, Y: 0, Z: 3000}},
		{"turned", r3.Vector{X: 0.1, Y: -0.2, Z: 0.05}, r3.Vector{X: 30, Y: -20, Z: 3000}},
		{"tilted close", r3.Vector{X: -0.25, Y: 0.1, Z: -0.15}, r3.Vector{X: -120, Y: 60, Z: 2200}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewSolver(testHeight, testWidth, DefaultFaceModel(), DefaultSolverConfig())
			want := frontalPose(tc.small, tc.trans)

			sol, err := s.Solve(synthesize(t, s, want, 0, nil))
			require.NoError(t, err)

			angle := RotationAngleBetween(want.Matrix(), sol.Pose.Matrix())
			assert.Less(t, angle*180/math.Pi, 1.0, "rotation error")
			assert.Less(t, sol.Pose.Translation.Sub(want.Translation).Norm(), 0.01*want.Translation.Z, "translation error")
			assert.Less(t, sol.RMSE, 1e-3)
			assert.Equal(t, PoseQualityExcellent, sol.Quality)
			assert.LessOrEqual(t, sol.Pose.Rotation.X, 0.0, "rotation is not canonical")
			assert.False(t, sol.WarmStarted)
		})
	}
}

func TestSolveWithNoise(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	s := NewSolver(testHeight, testWidth, DefaultFaceModel(), DefaultSolverConfig())
	want := frontalPose(r3.Vector{X: 0.05, Y: 0.15, Z: -0.05}, r3.Vector{X: 10, Y: 15, Z: 2800})

	for i := 0; i < 10; i++ {
		sol, err := s.Solve(synthesize(t, s, want, 0.5, rng))
		require.NoError(t, err)
		angle := RotationAngleBetween(want.Matrix(), sol.Pose.Matrix()) * 180 / math.Pi
		assert.Less(t, angle, 3.0, "frame %d rotation error", i)
		assert.Less(t, math.Abs(sol.Pose.Translation.Z-want.Translation.Z), 0.03*want.Translation.Z, "frame %d depth error", i)
		assert.Less(t, sol.RMSE, 1.5)
	}
}

func TestSolveWarmStartAndReset(t *testing.T) {
	s := NewSolver(testHeight, testWidth, DefaultFaceModel(), DefaultSolverConfig())
	obs := synthesize(t, s, frontalPose(r3.Vector{Y: 0.1}, r3.Vector{Z: 3000}), 0, nil)

	first, err := s.Solve(obs)
	require.NoError(t, err)
	assert.False(t, first.WarmStarted)

	second, err := s.Solve(obs)
	require.NoError(t, err)
	assert.True(t, second.WarmStarted)
	assert.InDeltaSlice(t, first.Pose.Channels(), second.Pose.Channels(), 1e-4)

	s.Reset()
	third, err := s.Solve(obs)
	require.NoError(t, err)
	assert.False(t, third.WarmStarted)
	assert.InDeltaSlice(t, first.Pose.Channels(), third.Pose.Channels(), 1e-9)
}

func TestSolveWarmStartRecoversFromJump(t *testing.T) {
	s := NewSolver(testHeight, testWidth, DefaultFaceModel(), DefaultSolverConfig())
	_, err := s.Solve(synthesize(t, s, frontalPose(r3.Vector{Y: 0.4}, r3.Vector{X: 100, Z: 3000}), 0, nil))
	require.NoError(t, err)

	want := frontalPose(r3.Vector{Y: -0.4, X: 0.2}, r3.Vector{X: -100, Z: 2500})
	sol, err := s.Solve(synthesize(t, s, want, 0, nil))
	require.NoError(t, err)
	assert.Less(t, RotationAngleBetween(want.Matrix(), sol.Pose.Matrix())*180/math.Pi, 1.0)
}

func TestSolveObservationLength(t *testing.T) {
	s := NewSolver(testHeight, testWidth, DefaultFaceModel(), DefaultSolverConfig())
	_, err := s.Solve(make(landmarks.Observation, 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrObservationLength))
}

func TestSolveDegenerate(t *testing.T) {
	s := NewSolver(testHeight, testWidth, DefaultFaceModel(), DefaultSolverConfig())
	obs := make(landmarks.Observation, s.Model().Len())
	for i := range obs {
		obs[i] = r2.Point{X: 320, Y: 240}
	}
	_, err := s.Solve(obs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerate))
}

func TestSolveIsDeterministic(t *testing.T) {
	a := NewSolver(testHeight, testWidth, DefaultFaceModel(), DefaultSolverConfig())
	b := NewSolver(testHeight, testWidth, DefaultFaceModel(), DefaultSolverConfig())
	obs := synthesize(t, a, frontalPose(r3.Vector{X: 0.1, Z: 0.1}, r3.Vector{Z: 2600}), 0, nil)

	sa, err := a.Solve(obs)
	require.NoError(t, err)
	sb, err := b.Solve(obs)
	require.NoError(t, err)
	assert.Equal(t, sa.Pose, sb.Pose)
}

func TestReprojectionRMSE(t *testing.T) {
	s := NewSolver(testHeight, testWidth, DefaultFaceModel(), DefaultSolverConfig())
	p := frontalPose(r3.Vector{}, r3.Vector{Z: 3000})
	obs := synthesize(t, s, p, 0, nil)
	assert.InDelta(t, 0, s.ReprojectionRMSE(p, obs), 1e-9)

	for i := range obs {
		obs[i] = obs[i].Add(r2.Point{X: 3, Y: 4})
	}
	assert.InDelta(t, 5, s.ReprojectionRMSE(p, obs), 1e-9)
	assert.True(t, math.IsInf(s.ReprojectionRMSE(p, obs[:2]), 1))
}

func TestRodriguesRoundTrip(t *testing.T) {
	vectors := []r3.Vector{
		{},
		{X: 1e-13},
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: -1.2, Y: 0.4, Z: 0.9},
		{X: 0, Y: math.Pi - 1e-4, Z: 0},
		{X: -(math.Pi - 1e-3), Y: 0.01, Z: -0.02},
		{X: 0.3, Y: 2.9, Z: -0.5},
	}
	for _, v := range vectors {
		m := Rodrigues(v)
		assert.True(t, IsValidRotation(m), "Rodrigues(%v) not a rotation", v)
		got := RotationVector(m)
		assert.InDelta(t, v.X, got.X, 1e-6, "x for %v", v)
		assert.InDelta(t, v.Y, got.Y, 1e-6, "y for %v", v)
		assert.InDelta(t, v.Z, got.Z, 1e-6, "z for %v", v)
	}
}

func TestCanonicalRotation(t *testing.T) {
	// (π, 0, 0) and (−π, 0, 0) are the same rotation.
	got := CanonicalRotation(r3.Vector{X: math.Pi})
	assert.InDelta(t, -math.Pi, got.X, 1e-12)

	in := r3.Vector{X: 3.0, Y: 0.1, Z: -0.2}
	got = CanonicalRotation(in)
	assert.LessOrEqual(t, got.X, 0.0)
	assert.Less(t, RotationAngleBetween(Rodrigues(in), Rodrigues(got)), 1e-9)

	neg := r3.Vector{X: -0.5, Y: 0.2}
	assert.Equal(t, neg, CanonicalRotation(neg))
}

func TestDeriveAngles(t *testing.T) {
	cases := []struct {
		name string
		in   r3.Vector
		want Angles
	}{
		{"frontal", r3.Vector{X: -math.Pi}, Angles{}},
		{"nod", r3.Vector{X: -math.Pi + 0.1}, Angles{Pitch: -0.1 * 180 / math.Pi}},
		{"roll", r3.Vector{X: -math.Pi, Y: 0.2}, Angles{Roll: 0.2 * 180 / math.Pi}},
		{"yaw", r3.Vector{X: -math.Pi, Z: -0.3}, Angles{Yaw: -0.3 * 180 / math.Pi}},
		{"roll clamped high", r3.Vector{X: -math.Pi, Y: 2}, Angles{Roll: 90}},
		{"roll clamped low", r3.Vector{X: -math.Pi, Y: -2}, Angles{Roll: -90}},
		{"pitch clamped", r3.Vector{X: 0}, Angles{Pitch: -90}},
		{"yaw clamped", r3.Vector{X: -math.Pi, Z: 1.7}, Angles{Yaw: 90}},
	}
	for _, tc := range cases {
		got := DeriveAngles(tc.in)
		assert.InDelta(t, tc.want.Roll, got.Roll, 1e-9, tc.name)
		assert.InDelta(t, tc.want.Pitch, got.Pitch, 1e-9, tc.name)
		assert.InDelta(t, tc.want.Yaw, got.Yaw, 1e-9, tc.name)
	}
}

func TestGradeRMSE(t *testing.T) {
	cases := []struct {
		rmse float64
		want PoseQuality
	}{
		{0, PoseQualityExcellent},
		{0.99, PoseQualityExcellent},
		{1, PoseQualityGood},
		{2.5, PoseQualityGood},
		{5, PoseQualityFair},
		{8, PoseQualityPoor},
		{math.Inf(1), PoseQualityUnknown},
		{math.NaN(), PoseQualityUnknown},
		{-1, PoseQualityUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, GradeRMSE(tc.rmse), "rmse %v", tc.rmse)
	}
}

func TestValidateSolution(t *testing.T) {
	good := Solution{Pose: frontalPose(r3.Vector{}, r3.Vector{Z: 3000}), RMSE: 0.5}

	res := ValidateSolution(good, 0)
	assert.True(t, res.Valid)
	assert.Equal(t, PoseQualityExcellent, res.Quality)
	assert.Empty(t, res.Issues)

	res = ValidateSolution(Solution{Pose: good.Pose, RMSE: 12}, 10)
	assert.False(t, res.Valid)
	assert.Equal(t, PoseQualityPoor, res.Quality)
	assert.Len(t, res.Issues, 2)

	behind := good
	behind.Pose.Translation.Z = -10
	res = ValidateSolution(behind, 0)
	assert.False(t, res.Valid)

	nan := good
	nan.Pose.Rotation.Y = math.NaN()
	res = ValidateSolution(nan, 0)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Issues[0], "non-finite")
}

func TestPoseChannels(t *testing.T) {
	p := Pose{Rotation: r3.Vector{X: -3, Y: 0.1, Z: 0.2}, Translation: r3.Vector{X: 1, Y: 2, Z: 3}}
	got, err := PoseFromChannels(p.Channels())
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = PoseFromChannels([]float64{1, 2})
	assert.Error(t, err)
}

func TestNewFaceModelValidation(t *testing.T) {
	pts := DefaultFaceModel()
	require.Equal(t, len(defaultModelPoints), pts.Len())

	_, err := NewFaceModel(defaultModelPoints[:MinModelPoints-1])
	assert.Error(t, err)

	dup := append([]ModelPoint(nil), defaultModelPoints...)
	dup[1].Landmark = dup[0].Landmark
	_, err = NewFaceModel(dup)
	assert.ErrorContains(t, err, "share landmark")

	neg := append([]ModelPoint(nil), defaultModelPoints...)
	neg[2].Landmark = -1
	_, err = NewFaceModel(neg)
	assert.ErrorContains(t, err, "negative")
}

func TestFaceModelObserve(t *testing.T) {
	m := DefaultFaceModel()
	face := make(landmarks.Face, landmarks.NumFaceMesh)
	for i := range face {
		face[i] = landmarks.Point{X: float64(i), Y: float64(2 * i)}
	}
	obs, err := m.Observe(face)
	require.NoError(t, err)
	require.Len(t, obs, m.Len())
	for i, idx := range m.Indices() {
		assert.Equal(t, r2.Point{X: float64(idx), Y: float64(2 * idx)}, obs[i])
	}

	_, err = m.Observe(face[:10])
	assert.Error(t, err)
}

func TestCameraIntrinsics(t *testing.T) {
	c := NewCameraIntrinsics(testHeight, testWidth, 0)
	assert.Equal(t, 640.0, c.Fx)
	assert.Equal(t, 320.0, c.Cx)
	assert.Equal(t, 240.0, c.Cy)
	assert.True(t, c.SameSize(480, 640))
	assert.False(t, c.SameSize(640, 480))

	p := r3.Vector{X: 10, Y: -20, Z: 100}
	px := c.Project(p)
	n := c.Normalize(px)
	assert.InDelta(t, 0.1, n.X, 1e-12)
	assert.InDelta(t, -0.2, n.Y, 1e-12)

	k := c.Matrix()
	assert.Equal(t, c.Fy, k.At(1, 1))
	assert.Equal(t, 1.0, k.At(2, 2))
}
