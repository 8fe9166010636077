// Package inference is the boundary to the pose model: a Detector turns one
// frame into zero or more person detections in source-pixel space.
package inference

import (
	"context"
	"time"

	"github.com/technospes/StrikeSync-Project/internal/types"
)

// Detector runs pose estimation on a single frame.
//
// Detect must not mutate frame. Keypoints are returned in the frame's pixel
// space regardless of the resolution the model ran at.
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error)
	Close() error
}

// Result is the fail-soft outcome of one Detect call. A failed call keeps its
// error for accounting but behaves as "nobody detected" downstream.
type Result struct {
	Detections []types.Detection
	Err        error
	Latency    time.Duration
}

// Failed reports whether the detector returned an error for this frame.
func (r Result) Failed() bool {
	return r.Err != nil
}

// People returns the detections, or nil when the call failed.
func (r Result) People() []types.Detection {
	if r.Err != nil {
		return nil
	}
	return r.Detections
}

// Run calls d.Detect and folds the outcome into a Result.
func Run(ctx context.Context, d Detector, frame *types.Frame) Result {
	start := time.Now()
	dets, err := d.Detect(ctx, frame)
	return Result{Detections: dets, Err: err, Latency: time.Since(start)}
}

// Func adapts an ordinary function to the Detector interface.
type Func func(ctx context.Context, frame *types.Frame) ([]types.Detection, error)

// Detect calls f(ctx, frame).
func (f Func) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	return f(ctx, frame)
}

// Close is a no-op.
func (f Func) Close() error { return nil }
