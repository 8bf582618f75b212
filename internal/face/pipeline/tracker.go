package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/facetrack/internal/config"
	"github.com/banshee-data/facetrack/internal/face/features"
	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/banshee-data/facetrack/internal/face/pose"
	"github.com/banshee-data/facetrack/internal/face/stabilize"
	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/banshee-data/facetrack/internal/timeutil"
)

// State is the tracker's lifecycle state.
type State string

const (
	StateNoFace   State = "no_face"  // No temporal state; the next face starts fresh
	StateTracking State = "tracking" // Solver warm start and stabilizers are live
)

// ErrPoseRejected marks a frame skipped because its pose was degenerate or
// unusable. Stabilizer state is unchanged.
var ErrPoseRejected = errors.New("pose rejected")

// FeatureExtractor computes the expression scalars for a face.
type FeatureExtractor interface {
	Extract(face landmarks.Face) (features.Expression, error)
}

// TrackerConfig holds configuration for the tracker.
type TrackerConfig struct {
	Model      pose.FaceModel
	Solver     pose.SolverConfig
	Stabilizer stabilize.StabilizerConfig

	// RejectUnusablePose skips frames that fail pose validation, including
	// the Solver.MaxRMSEPx limit when set.
	RejectUnusablePose bool

	Select   landmarks.SelectionPolicy // nil means landmarks.SelectFirst
	Features FeatureExtractor          // nil means features.NewExtractor()
	Clock    timeutil.Clock            // nil means timeutil.RealClock
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.MustLoadDefaultConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		Model: pose.DefaultFaceModel(),
		Solver: pose.SolverConfig{
			MaxIterations:  cfg.GetSolverMaxIterations(),
			ConvergenceEps: cfg.GetSolverConvergenceEps(),
			FocalScale:     cfg.GetSolverFocalScale(),
			WarmStart:      cfg.GetWarmStart(),
			MaxRMSEPx:      cfg.GetMaxReprojectionRMSEPx(),
		},
		Stabilizer: stabilize.StabilizerConfig{
			ProcessNoise:     cfg.GetStabilizerCovProcess(),
			MeasurementNoise: cfg.GetStabilizerCovMeasure(),
		},
		RejectUnusablePose: cfg.GetRejectUnusablePose(),
	}
}

// Stats are running counters since the tracker was created.
type Stats struct {
	State       State         `json:"state"`
	Frames      uint64        `json:"frames"`
	Emitted     uint64        `json:"emitted"`
	NoFace      uint64        `json:"no_face"`
	Rejected    uint64        `json:"rejected"`
	Errors      uint64        `json:"errors"`
	Resets      uint64        `json:"resets"`
	Rebuilds    uint64        `json:"rebuilds"`
	LastLatency time.Duration `json:"last_latency_ns"`
	LastQuality string        `json:"last_quality,omitempty"`
}

// Tracker owns all per-face temporal state: the pose solver and its camera
// intrinsics, and the pose and expression stabilizer banks. State exists
// only while a face is tracked; Reset drops it.
type Tracker struct {
	config TrackerConfig

	state    State
	solver   *pose.Solver
	poseBank *stabilize.Bank
	exprBank *stabilize.Bank
	stats    Stats

	mu sync.Mutex
}

// NewTracker creates a tracker in the NoFace state.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Model.Len() == 0 {
		cfg.Model = pose.DefaultFaceModel()
	}
	if cfg.Select == nil {
		cfg.Select = landmarks.SelectFirst
	}
	if cfg.Features == nil {
		cfg.Features = features.NewExtractor()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Tracker{config: cfg, state: StateNoFace}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.State = t.state
	return s
}

// Reset drops the solver, intrinsics and both stabilizer banks. The next
// tracked frame rebuilds them from scratch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	if t.solver != nil || t.poseBank != nil {
		t.stats.Resets++
	}
	t.solver = nil
	t.poseBank = nil
	t.exprBank = nil
	t.state = StateNoFace
}

// ensureLocked builds the per-face state for a height x width frame,
// rebuilding everything if the frame size changed.
func (t *Tracker) ensureLocked(height, width int) {
	if t.solver != nil && t.solver.Camera().SameSize(height, width) {
		return
	}
	if t.solver != nil {
		monitoring.Logf("tracker: frame size changed to %dx%d, rebuilding", width, height)
		t.resetLocked()
	}
	t.solver = pose.NewSolver(height, width, t.config.Model, t.config.Solver)
	t.poseBank = stabilize.NewBank(stabilize.PoseChannels, t.config.Stabilizer)
	t.exprBank = stabilize.NewBank(stabilize.ExpressionChannels, t.config.Stabilizer)
	t.stats.Rebuilds++
}

// ProcessFrame advances the tracker by one detector frame.
//
// It returns (nil, nil) when the frame has no face, and an error wrapping
// ErrPoseRejected when the pose is degenerate or unusable; in both cases
// nothing is emitted. Other errors are contract violations by the caller.
func (t *Tracker) ProcessFrame(frame landmarks.Frame) (*FrameOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.config.Clock.Now()
	defer func() { t.stats.LastLatency = t.config.Clock.Since(start) }()
	t.stats.Frames++

	face, ok := t.config.Select(frame.Faces)
	if !ok {
		if t.state == StateTracking {
			monitoring.Debugf("tracker: face lost at frame %d", frame.Index)
		}
		t.resetLocked()
		t.stats.NoFace++
		return nil, nil
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		t.stats.Errors++
		return nil, fmt.Errorf("frame %d has invalid size %dx%d", frame.Index, frame.Width, frame.Height)
	}

	t.ensureLocked(frame.Height, frame.Width)

	obs, err := t.config.Model.Observe(face)
	if err != nil {
		t.stats.Errors++
		return nil, fmt.Errorf("frame %d: %w", frame.Index, err)
	}
	expr, err := t.config.Features.Extract(face)
	if err != nil {
		t.stats.Errors++
		return nil, fmt.Errorf("frame %d: %w", frame.Index, err)
	}

	sol, err := t.solver.Solve(obs)
	if err != nil {
		if errors.Is(err, pose.ErrDegenerate) {
			t.stats.Rejected++
			return nil, fmt.Errorf("frame %d: %w: %w", frame.Index, ErrPoseRejected, err)
		}
		t.stats.Errors++
		return nil, fmt.Errorf("frame %d: %w", frame.Index, err)
	}
	t.stats.LastQuality = string(sol.Quality)

	if t.config.RejectUnusablePose {
		if v := pose.ValidateSolution(sol, t.config.Solver.MaxRMSEPx); !v.Valid {
			t.stats.Rejected++
			return nil, fmt.Errorf("frame %d: %w: %v", frame.Index, ErrPoseRejected, v.Issues)
		}
	}

	poseOut, err := t.poseBank.Update(sol.Pose.Channels())
	if err != nil {
		return nil, err
	}
	exprOut, err := t.exprBank.Update(expr.Channels())
	if err != nil {
		return nil, err
	}
	stablePose, err := pose.PoseFromChannels(poseOut)
	if err != nil {
		return nil, err
	}
	stableExpr, err := expr.WithChannels(exprOut)
	if err != nil {
		return nil, err
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = start
	}

	t.state = StateTracking
	t.stats.Emitted++
	monitoring.Debugf("tracker: frame %d rmse=%.2fpx iters=%d warm=%v", frame.Index, sol.RMSE, sol.Iterations, sol.WarmStarted)

	return &FrameOutput{
		Index:         frame.Index,
		Timestamp:     ts,
		Angles:        pose.DeriveAngles(stablePose.Rotation),
		Expression:    stableExpr,
		Pose:          stablePose,
		RawPose:       sol.Pose,
		RawExpression: expr,
		RMSE:          sol.RMSE,
		Quality:       sol.Quality,
	}, nil
}
