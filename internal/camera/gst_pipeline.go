package camera

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// pipelineConfig contains configuration for the V4L2 capture pipeline
type pipelineConfig struct {
	Device string
	Width  int
	Height int
	FPS    int
	MJPEG  bool
}

// pipelineElements holds references to the elements needed after creation
type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
	Source   *gst.Element
}

// createPipeline creates and configures a GStreamer pipeline for a local camera
//
// Pipeline structure:
//
//	v4l2src → [capsfilter(image/jpeg) → jpegdec] → videoconvert → videoscale →
//	videorate → capsfilter(RGB) → appsink
//
// The JPEG branch is only present when MJPEG is requested; most USB webcams
// only reach 30 fps at 640x360 and above in MJPG mode.
//
// The pipeline is configured but NOT started (state remains NULL).
func createPipeline(cfg pipelineConfig) (*pipelineElements, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	v4l2src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	v4l2src.SetProperty("device", cfg.Device)
	v4l2src.SetProperty("do-timestamp", true)

	chain := []*gst.Element{v4l2src}

	if cfg.MJPEG {
		jpegCaps, err := gst.NewElement("capsfilter")
		if err != nil {
			return nil, fmt.Errorf("failed to create jpeg capsfilter: %w", err)
		}
		jpegCaps.SetProperty("caps", gst.NewCapsFromString(
			fmt.Sprintf("image/jpeg,width=%d,height=%d,framerate=%d/1", cfg.Width, cfg.Height, cfg.FPS),
		))

		jpegdec, err := gst.NewElement("jpegdec")
		if err != nil {
			return nil, fmt.Errorf("failed to create jpegdec: %w", err)
		}
		chain = append(chain, jpegCaps, jpegdec)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0) // 0 = auto-detect cores

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)     // Only drop frames, never duplicate
	videorate.SetProperty("skip-to-first", true) // Skip to first frame on start

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := buildRGBCaps(cfg.Width, cfg.Height, cfg.FPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // No sync with clock (real-time)
	appsink.SetProperty("max-buffers", 1) // Keep only latest frame
	appsink.SetProperty("drop", true)     // Drop old frames
	appsink.SetProperty("qos", true)

	chain = append(chain, converter, scaler, videorate, capsfilter, appsink.Element)

	if err := pipeline.AddMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	slog.Debug("camera: gstreamer pipeline created",
		"device", cfg.Device,
		"mjpeg", cfg.MJPEG,
		"caps", capsStr,
	)

	return &pipelineElements{
		Pipeline: pipeline,
		AppSink:  appsink,
		Source:   v4l2src,
	}, nil
}

// destroyPipeline sets the pipeline to NULL state, releasing the device.
// Safe to call with a nil pipeline.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}

	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// buildRGBCaps builds the appsink caps string
//
// Format: "video/x-raw,format=RGB,width=W,height=H,framerate=N/1"
func buildRGBCaps(width, height, fps int) string {
	return fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		width, height, fps,
	)
}
