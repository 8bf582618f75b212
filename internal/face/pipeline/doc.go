// Package pipeline drives one tracked face from detector landmarks to the
// stabilized avatar parameters.
//
// Per frame the Tracker selects a face, solves head pose, extracts the
// expression scalars, runs both through their stabilizer banks and derives
// clamped head angles. A frame with no face resets all temporal state so the
// next appearance starts fresh; a frame whose pose cannot be solved is
// skipped without touching any filter.
//
// Runner feeds a Tracker from a landmarks.Source and fans each FrameOutput
// out to the transport and recording collaborators.
package pipeline
