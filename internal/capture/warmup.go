package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// Example: 30 FPS mean → stable if stddev < 4.5 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	// Example: 30 FPS (33ms interval) → stable if jitter < 6.6ms
	jitterStabilityThreshold = 0.20
)

// WarmupStats contains statistics collected while warming up the camera
type WarmupStats struct {
	FramesReceived int           `json:"frames_received"`
	Duration       time.Duration `json:"duration"`
	FPSMean        float64       `json:"fps_mean"`
	FPSStdDev      float64       `json:"fps_stddev"`
	FPSMin         float64       `json:"fps_min"`
	FPSMax         float64       `json:"fps_max"`
	IsStable       bool          `json:"is_stable"`   // stddev < 15% of mean AND jitter < 20% of interval
	JitterMean     float64       `json:"jitter_mean"` // seconds
	JitterMax      float64       `json:"jitter_max"`  // seconds
}

// Warmup reads frames directly from src for duration d, discarding them, and
// reports the measured frame rate. It must run before the capture worker starts.
//
// Returns an error if fewer than 2 frames arrive or ctx is cancelled.
func Warmup(ctx context.Context, src Source, d time.Duration) (*WarmupStats, error) {
	slog.Info("capture: starting camera warm-up", "duration", d)

	start := time.Now()
	frameTimes := make([]time.Time, 0, 128)

	warmupCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	for warmupCtx.Err() == nil {
		frame, ok := src.Read()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		frameTimes = append(frameTimes, frame.Timestamp)
	}

	// Parent cancellation is an abort, not the end of the warm-up window
	if ctx.Err() != nil {
		return nil, fmt.Errorf("capture: warm-up cancelled: %w", ctx.Err())
	}

	if len(frameTimes) < 2 {
		return nil, fmt.Errorf("capture: warm-up received %d frames in %v", len(frameTimes), d)
	}

	stats := CalculateFPSStats(frameTimes, time.Since(start))

	slog.Info("capture: warm-up complete",
		"frames", stats.FramesReceived,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.2f-%.2f", stats.FPSMin, stats.FPSMax),
		"jitter_mean_ms", fmt.Sprintf("%.1f", stats.JitterMean*1000),
		"stable", stats.IsStable,
	)
	if !stats.IsStable {
		slog.Warn("capture: camera frame rate unstable, expect uneven pose rate")
	}

	return stats, nil
}

// CalculateFPSStats calculates FPS statistics from frame timestamps
//
// This function:
//  1. Calculates mean FPS (overall)
//  2. Calculates instantaneous FPS for each frame interval
//  3. Finds min/max instantaneous FPS
//  4. Calculates standard deviation of instantaneous FPS
//  5. Calculates jitter (deviation from expected inter-frame interval)
//  6. Determines stability
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	n := len(frameTimes)
	stats := &WarmupStats{FramesReceived: n, Duration: totalDuration}

	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		diff := fps - stats.FPSMean
		sumSquares += diff * diff
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expectedInterval := 1.0 / stats.FPSMean
	var jitterSum float64
	for i := 1; i < n; i++ {
		jitter := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expectedInterval)
		jitterSum += jitter
		stats.JitterMax = math.Max(stats.JitterMax, jitter)
	}
	stats.JitterMean = jitterSum / float64(n-1)

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expectedInterval*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable

	return stats
}
