//go:build !gocv

package camera

import (
	"errors"

	"github.com/technospes/StrikeSync-Project/internal/capture"
	"github.com/technospes/StrikeSync-Project/internal/config"
)

// ErrOpenCVUnavailable is returned when the opencv backend is selected in a
// binary built without -tags gocv.
var ErrOpenCVUnavailable = errors.New("camera: opencv backend not compiled in (rebuild with -tags gocv)")

// NewOpenCVSource always fails without the gocv build tag.
func NewOpenCVSource(config.CameraConfig) (capture.Source, error) {
	return nil, ErrOpenCVUnavailable
}
