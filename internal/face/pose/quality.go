package pose

import (
	"fmt"
	"math"
)

// PoseQuality grades a solution by its reprojection error.
type PoseQuality string

const (
	// PoseQualityExcellent indicates RMSE < 1px
	PoseQualityExcellent PoseQuality = "excellent"
	// PoseQualityGood indicates RMSE 1-3px, normal landmark jitter
	PoseQualityGood PoseQuality = "good"
	// PoseQualityFair indicates RMSE 3-8px, usable but noisy
	PoseQualityFair PoseQuality = "fair"
	// PoseQualityPoor indicates RMSE > 8px, likely a bad fit or wrong face
	PoseQualityPoor PoseQuality = "poor"
	// PoseQualityUnknown indicates RMSE not computed
	PoseQualityUnknown PoseQuality = "unknown"
)

// Reprojection RMSE thresholds (pixels)
const (
	RMSEThresholdExcellent = 1.0
	RMSEThresholdGood      = 3.0
	RMSEThresholdFair      = 8.0
	// RotationValidationTolerance bounds |RᵀR − I| and |det R − 1|.
	RotationValidationTolerance = 1e-6
)

// GradeRMSE maps a reprojection RMSE to a quality grade.
func GradeRMSE(rmse float64) PoseQuality {
	switch {
	case math.IsNaN(rmse) || math.IsInf(rmse, 0) || rmse < 0:
		return PoseQualityUnknown
	case rmse < RMSEThresholdExcellent:
		return PoseQualityExcellent
	case rmse < RMSEThresholdGood:
		return PoseQualityGood
	case rmse < RMSEThresholdFair:
		return PoseQualityFair
	default:
		return PoseQualityPoor
	}
}

// PoseValidationResult contains the result of pose validation.
type PoseValidationResult struct {
	Valid   bool
	Quality PoseQuality
	Issues  []string
}

// ValidateSolution checks that a solution is a proper rigid transform in
// front of the camera and grades its fit. maxRMSE of zero skips the RMSE
// limit.
func ValidateSolution(sol Solution, maxRMSE float64) PoseValidationResult {
	result := PoseValidationResult{
		Quality: GradeRMSE(sol.RMSE),
		Issues:  make([]string, 0),
	}

	if !sol.Pose.isFinite() {
		result.Issues = append(result.Issues, "pose has non-finite components")
		result.Quality = PoseQualityPoor
		return result
	}
	if !IsValidRotation(sol.Pose.Matrix()) {
		result.Issues = append(result.Issues, "rotation is not orthonormal")
		result.Quality = PoseQualityPoor
		return result
	}
	if sol.Pose.Translation.Z <= minDepth {
		result.Issues = append(result.Issues, "face is behind the camera")
		result.Quality = PoseQualityPoor
		return result
	}

	switch result.Quality {
	case PoseQualityFair:
		result.Issues = append(result.Issues, "pose fit is fair - landmarks are noisy")
	case PoseQualityPoor:
		result.Issues = append(result.Issues, "pose fit is poor - check landmark source")
	}
	if maxRMSE > 0 && sol.RMSE > maxRMSE {
		result.Issues = append(result.Issues, fmt.Sprintf("reprojection RMSE %.2fpx exceeds limit %.2fpx", sol.RMSE, maxRMSE))
		return result
	}

	result.Valid = true
	return result
}

// IsValidRotation reports whether m is orthonormal with determinant +1.
func IsValidRotation(m Matrix3) bool {
	if math.Abs(m.Det()-1) > RotationValidationTolerance {
		return false
	}
	p := m.Transpose().Mul(m)
	id := Identity3()
	for i := range p {
		if math.Abs(p[i]-id[i]) > RotationValidationTolerance {
			return false
		}
	}
	return true
}
