package pipeline

import (
	"time"

	"github.com/banshee-data/facetrack/internal/face/features"
	"github.com/banshee-data/facetrack/internal/face/pose"
)

// NumOutputValues is the width of the avatar parameter vector.
const NumOutputValues = 11

// OutputNames labels Values in order.
var OutputNames = [NumOutputValues]string{
	"roll", "pitch", "yaw",
	"ear_left", "ear_right",
	"iris_x_left", "iris_y_left", "iris_x_right", "iris_y_right",
	"mar", "mouth_distance",
}

// FrameOutput is everything the tracker produced for one tracked frame.
//
// Angles come from the stabilized pose. Expression holds stabilized eye and
// mouth-distance channels with the raw MAR; RawPose and RawExpression are the
// unfiltered inputs, kept for charts and recordings.
type FrameOutput struct {
	Index     int64     `json:"index"`
	Timestamp time.Time `json:"timestamp"`

	Angles     pose.Angles         `json:"angles"`
	Expression features.Expression `json:"expression"`

	Pose          pose.Pose           `json:"-"`
	RawPose       pose.Pose           `json:"-"`
	RawExpression features.Expression `json:"-"`

	RMSE    float64          `json:"rmse_px"`
	Quality pose.PoseQuality `json:"quality"`
}

// Values returns the avatar parameter vector: roll, pitch, yaw, ear_left,
// ear_right, iris_x_left, iris_y_left, iris_x_right, iris_y_right, mar,
// mouth_distance.
func (o FrameOutput) Values() [NumOutputValues]float64 {
	e := o.Expression
	return [NumOutputValues]float64{
		o.Angles.Roll, o.Angles.Pitch, o.Angles.Yaw,
		e.EARLeft, e.EARRight,
		e.IrisXLeft, e.IrisYLeft, e.IrisXRight, e.IrisYRight,
		e.MAR, e.MouthDistance,
	}
}

// RawValues returns the same vector computed from the unstabilized pose and
// expression.
func (o FrameOutput) RawValues() [NumOutputValues]float64 {
	a := pose.DeriveAngles(o.RawPose.Rotation)
	e := o.RawExpression
	return [NumOutputValues]float64{
		a.Roll, a.Pitch, a.Yaw,
		e.EARLeft, e.EARRight,
		e.IrisXLeft, e.IrisYLeft, e.IrisXRight, e.IrisYRight,
		e.MAR, e.MouthDistance,
	}
}
