package pose

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrObservationLength means the observation is not index-aligned with the model.
	ErrObservationLength = errors.New("observation length does not match face model")
	// ErrDegenerate means the point configuration gives no usable pose.
	ErrDegenerate = errors.New("degenerate pose geometry")
)

// Internal numerical constants, not user-tunable.
const (
	// dltRankTolerance is the smallest ratio of the second-smallest to the
	// largest singular value accepted from the DLT system.
	dltRankTolerance = 1e-9
	// minDepth rejects solutions that put the face behind or on the camera.
	minDepth = 1e-6
	// warmStartRetryRMSEPx triggers a fresh DLT seed when a warm-started
	// refinement lands this far off.
	warmStartRetryRMSEPx = 5.0
	lmInitialLambda      = 1e-3
	lmMaxLambda          = 1e10
	numParams            = 6
)

// SolverConfig tunes the PnP solver.
type SolverConfig struct {
	MaxIterations  int     // Levenberg–Marquardt iteration budget per frame
	ConvergenceEps float64 // relative step size that ends refinement
	FocalScale     float64 // focal length as a multiple of frame width
	WarmStart      bool    // seed from the previous frame's solution
	MaxRMSEPx      float64 // RMSE above which a solution is unusable; 0 disables
}

// DefaultSolverConfig returns the real-time defaults.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		MaxIterations:  20,
		ConvergenceEps: 1e-8,
		FocalScale:     1,
		WarmStart:      true,
	}
}

// Pose is a rigid transform from the model frame to the camera frame.
type Pose struct {
	Rotation    r3.Vector // axis-angle, radians
	Translation r3.Vector // model units
}

// Channels flattens the pose as rx, ry, rz, tx, ty, tz.
func (p Pose) Channels() []float64 {
	return []float64{
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z,
		p.Translation.X, p.Translation.Y, p.Translation.Z,
	}
}

// PoseFromChannels is the inverse of Channels.
func PoseFromChannels(v []float64) (Pose, error) {
	if len(v) != numParams {
		return Pose{}, fmt.Errorf("pose needs %d channels, got %d", numParams, len(v))
	}
	return Pose{
		Rotation:    r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Translation: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
	}, nil
}

// Matrix returns the rotation as a matrix.
func (p Pose) Matrix() Matrix3 {
	return Rodrigues(p.Rotation)
}

// Transform maps a model point into the camera frame.
func (p Pose) Transform(x r3.Vector) r3.Vector {
	return p.Matrix().Apply(x).Add(p.Translation)
}

func (p Pose) isFinite() bool {
	for _, v := range p.Channels() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Solution is the result of one Solve.
type Solution struct {
	Pose        Pose
	RMSE        float64 // reprojection error, pixels
	Iterations  int
	WarmStarted bool
	Quality     PoseQuality
}

// Solver recovers head pose from one frame's 2D observations of a FaceModel.
// It keeps the last solution as a warm start until Reset. Not safe for
// concurrent use.
type Solver struct {
	model  FaceModel
	camera CameraIntrinsics
	config SolverConfig

	points []r3.Vector
	last   *Pose
}

// NewSolver builds a solver for frames of the given size.
func NewSolver(height, width int, model FaceModel, config SolverConfig) *Solver {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultSolverConfig().MaxIterations
	}
	if config.ConvergenceEps <= 0 {
		config.ConvergenceEps = DefaultSolverConfig().ConvergenceEps
	}
	return &Solver{
		model:  model,
		camera: NewCameraIntrinsics(height, width, config.FocalScale),
		config: config,
		points: model.Positions(),
	}
}

// Camera returns the intrinsics the solver was built with.
func (s *Solver) Camera() CameraIntrinsics { return s.camera }

// Model returns the face model.
func (s *Solver) Model() FaceModel { return s.model }

// Reset discards the warm start.
func (s *Solver) Reset() { s.last = nil }

// Solve finds the pose minimizing squared reprojection error.
func (s *Solver) Solve(obs landmarks.Observation) (Solution, error) {
	if len(obs) != len(s.points) {
		return Solution{}, fmt.Errorf("%w: got %d points, model has %d", ErrObservationLength, len(obs), len(s.points))
	}

	var (
		sol Solution
		err error
	)
	if s.config.WarmStart && s.last != nil {
		sol = s.refine(*s.last, obs)
		sol.WarmStarted = true
		if !sol.Pose.isFinite() || sol.RMSE > warmStartRetryRMSEPx {
			fresh, ferr := s.solveFromDLT(obs)
			switch {
			case ferr != nil:
				// A poor warm fit on geometry the direct solve rejects is
				// not a pose.
				return Solution{}, ferr
			case fresh.RMSE < sol.RMSE || !sol.Pose.isFinite():
				sol = fresh
			}
		}
	} else {
		sol, err = s.solveFromDLT(obs)
		if err != nil {
			return Solution{}, err
		}
	}

	if !sol.Pose.isFinite() || sol.Pose.Translation.Z <= minDepth {
		return Solution{}, fmt.Errorf("%w: solver produced an invalid pose", ErrDegenerate)
	}

	sol.Pose.Rotation = CanonicalRotation(sol.Pose.Rotation)
	sol.Quality = GradeRMSE(sol.RMSE)
	last := sol.Pose
	s.last = &last
	return sol, nil
}

func (s *Solver) solveFromDLT(obs landmarks.Observation) (Solution, error) {
	seed, err := s.directEstimate(obs)
	if err != nil {
		return Solution{}, err
	}
	return s.refine(seed, obs), nil
}

// directEstimate solves the 12-parameter projective DLT on normalized image
// coordinates and projects the result onto the nearest rigid transform.
func (s *Solver) directEstimate(obs landmarks.Observation) (Pose, error) {
	n := len(s.points)
	centroid, meanDist, err := s.model.centroidAndScale()
	if err != nil {
		return Pose{}, err
	}
	if meanDist < 1e-12 {
		return Pose{}, fmt.Errorf("%w: model points coincide", ErrDegenerate)
	}
	scale := math.Sqrt(3) / meanDist

	a := mat.NewDense(2*n, 12, nil)
	for i, p := range s.points {
		q := p.Sub(centroid).Mul(scale)
		uv := s.camera.Normalize(obs[i])
		xh := [4]float64{q.X, q.Y, q.Z, 1}
		for j := 0; j < 4; j++ {
			a.Set(2*i, j, xh[j])
			a.Set(2*i, 8+j, -uv.X*xh[j])
			a.Set(2*i+1, 4+j, xh[j])
			a.Set(2*i+1, 8+j, -uv.Y*xh[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return Pose{}, fmt.Errorf("%w: DLT factorization failed", ErrDegenerate)
	}
	sv := svd.Values(nil)
	if sv[0] == 0 || sv[10]/sv[0] < dltRankTolerance {
		return Pose{}, fmt.Errorf("%w: DLT system is rank deficient", ErrDegenerate)
	}
	var v mat.Dense
	svd.VTo(&v)

	// Normalized projection M' (3x4), then undo the model normalization:
	// M = M' · T with T = [sI | -s·c; 0 1].
	var mp [12]float64
	for i := range mp {
		mp[i] = v.At(i, 11)
	}
	var m [12]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[r*4+c] = mp[r*4+c] * scale
		}
		m[r*4+3] = mp[r*4+3] - scale*(mp[r*4+0]*centroid.X+mp[r*4+1]*centroid.Y+mp[r*4+2]*centroid.Z)
	}

	rot := mat.NewDense(3, 3, []float64{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	})
	var rsvd mat.SVD
	if ok := rsvd.Factorize(rot, mat.SVDFull); !ok {
		return Pose{}, fmt.Errorf("%w: rotation factorization failed", ErrDegenerate)
	}
	var u, vt mat.Dense
	rsvd.UTo(&u)
	rsvd.VTo(&vt)
	var r mat.Dense
	r.Mul(&u, vt.T())

	rsv := rsvd.Values(nil)
	lambda := (rsv[0] + rsv[1] + rsv[2]) / 3
	if lambda < 1e-15 {
		return Pose{}, fmt.Errorf("%w: DLT scale vanished", ErrDegenerate)
	}
	sign := 1.0
	if mat.Det(&r) < 0 {
		// The DLT null vector is defined up to sign; flip to a proper rotation.
		r.Scale(-1, &r)
		sign = -1
	}

	var R Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			R[i*3+j] = r.At(i, j)
		}
	}
	t := r3.Vector{X: m[3], Y: m[7], Z: m[11]}.Mul(sign / lambda)
	if t.Z <= minDepth {
		return Pose{}, fmt.Errorf("%w: DLT puts the face behind the camera", ErrDegenerate)
	}
	return Pose{Rotation: RotationVector(R), Translation: t}, nil
}

// residuals fills res with (projected − observed) per point, x then y.
// It reports false when a point falls behind the camera.
func (s *Solver) residuals(p [numParams]float64, obs landmarks.Observation, res []float64) bool {
	R := Rodrigues(r3.Vector{X: p[0], Y: p[1], Z: p[2]})
	t := r3.Vector{X: p[3], Y: p[4], Z: p[5]}
	for i, x := range s.points {
		c := R.Apply(x).Add(t)
		if c.Z <= minDepth {
			return false
		}
		px := s.camera.Project(c)
		res[2*i] = px.X - obs[i].X
		res[2*i+1] = px.Y - obs[i].Y
	}
	return true
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}

// jacobian fills jac (2N x 6) by central differences.
func (s *Solver) jacobian(p [numParams]float64, obs landmarks.Observation, jac *mat.Dense, plus, minus []float64) bool {
	for j := 0; j < numParams; j++ {
		h := 1e-6 * math.Max(1, math.Abs(p[j]))
		pp, pm := p, p
		pp[j] += h
		pm[j] -= h
		if !s.residuals(pp, obs, plus) || !s.residuals(pm, obs, minus) {
			return false
		}
		for i := range plus {
			jac.Set(i, j, (plus[i]-minus[i])/(2*h))
		}
	}
	return true
}

// refine runs Levenberg–Marquardt from seed within the iteration budget.
func (s *Solver) refine(seed Pose, obs landmarks.Observation) Solution {
	n := 2 * len(s.points)
	p := [numParams]float64{
		seed.Rotation.X, seed.Rotation.Y, seed.Rotation.Z,
		seed.Translation.X, seed.Translation.Y, seed.Translation.Z,
	}

	res := make([]float64, n)
	trial := make([]float64, n)
	plus := make([]float64, n)
	minus := make([]float64, n)
	jac := mat.NewDense(n, numParams, nil)

	if !s.residuals(p, obs, res) {
		return Solution{Pose: seed, RMSE: math.Inf(1)}
	}
	cost := sumSquares(res)
	lambda := lmInitialLambda

	var (
		jtj  mat.SymDense
		grad mat.VecDense
		step mat.VecDense
		chol mat.Cholesky
	)
	a := mat.NewSymDense(numParams, nil)

	iterations := 0
	needJacobian := true
	for iterations < s.config.MaxIterations {
		iterations++
		if needJacobian {
			if !s.jacobian(p, obs, jac, plus, minus) {
				break
			}
			jtj.SymOuterK(1, jac.T())
			grad.MulVec(jac.T(), mat.NewVecDense(n, res))
			needJacobian = false
		}

		a.CopySym(&jtj)
		for i := 0; i < numParams; i++ {
			a.SetSym(i, i, jtj.At(i, i)*(1+lambda)+1e-12)
		}
		if ok := chol.Factorize(a); !ok {
			lambda *= 10
			if lambda > lmMaxLambda {
				break
			}
			continue
		}
		if err := chol.SolveVecTo(&step, &grad); err != nil {
			lambda *= 10
			if lambda > lmMaxLambda {
				break
			}
			continue
		}

		var candidate [numParams]float64
		var stepNorm, paramNorm float64
		for i := range candidate {
			d := -step.AtVec(i)
			candidate[i] = p[i] + d
			stepNorm += d * d
			paramNorm += p[i] * p[i]
		}

		converged := math.Sqrt(stepNorm) <= s.config.ConvergenceEps*(math.Sqrt(paramNorm)+s.config.ConvergenceEps)

		if s.residuals(candidate, obs, trial) {
			if trialCost := sumSquares(trial); trialCost < cost {
				p = candidate
				cost = trialCost
				copy(res, trial)
				lambda = math.Max(lambda/10, 1e-12)
				needJacobian = true
				if converged {
					break
				}
				continue
			}
		}
		if converged {
			break
		}
		lambda *= 10
		if lambda > lmMaxLambda {
			break
		}
	}

	return Solution{
		Pose: Pose{
			Rotation:    r3.Vector{X: p[0], Y: p[1], Z: p[2]},
			Translation: r3.Vector{X: p[3], Y: p[4], Z: p[5]},
		},
		RMSE:       math.Sqrt(cost / float64(len(s.points))),
		Iterations: iterations,
	}
}

// Project maps every model point through pose and the camera.
func (s *Solver) Project(p Pose) []r2.Point {
	R := p.Matrix()
	out := make([]r2.Point, len(s.points))
	for i, x := range s.points {
		out[i] = s.camera.Project(R.Apply(x).Add(p.Translation))
	}
	return out
}

// ReprojectionRMSE returns the root-mean-square pixel distance between the
// projected model and obs.
func (s *Solver) ReprojectionRMSE(p Pose, obs landmarks.Observation) float64 {
	if len(obs) != len(s.points) {
		return math.Inf(1)
	}
	var sum float64
	for i, q := range s.Project(p) {
		d := q.Sub(obs[i])
		sum += d.X*d.X + d.Y*d.Y
	}
	return math.Sqrt(sum / float64(len(obs)))
}
