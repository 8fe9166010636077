// Package camera holds the device backends behind capture.Source: a
// GStreamer V4L2 pipeline (default) and OpenCV (built with -tags gocv).
package camera

import (
	"fmt"
	"log/slog"

	"github.com/technospes/StrikeSync-Project/internal/capture"
	"github.com/technospes/StrikeSync-Project/internal/config"
)

// Open creates the Source selected by cfg.Backend.
// A device that cannot be opened is a startup failure.
func Open(cfg config.CameraConfig) (capture.Source, error) {
	var (
		src capture.Source
		err error
	)

	switch cfg.Backend {
	case "", "gstreamer":
		src, err = NewGstSource(cfg)
	case "opencv":
		src, err = NewOpenCVSource(cfg)
	default:
		return nil, fmt.Errorf("camera: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if d, ok := src.(capture.Describer); ok {
		info := d.Info()
		slog.Info("camera: opened",
			"backend", info.Backend,
			"device", info.Device,
			"resolution", fmt.Sprintf("%dx%d", info.Width, info.Height),
			"fps", info.FPS,
		)
	}

	return src, nil
}
