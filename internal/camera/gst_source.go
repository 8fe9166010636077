package camera

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/technospes/StrikeSync-Project/internal/capture"
	"github.com/technospes/StrikeSync-Project/internal/config"
	"github.com/technospes/StrikeSync-Project/internal/types"
)

// stateChangeTimeout bounds how long Open waits for the pipeline to reach PLAYING.
const stateChangeTimeout = 5 * time.Second

// GstSource reads RGB frames from a V4L2 camera through a GStreamer pipeline.
//
// Read pulls one sample from the appsink with a bounded timeout, so a stalled
// device surfaces as a read miss instead of blocking the capture goroutine
// forever.
type GstSource struct {
	elements    *pipelineElements
	device      string
	width       int
	height      int
	fps         int
	readTimeout time.Duration
	bus         *busWatcher

	seq       uint64
	bytesRead uint64

	releaseOnce sync.Once
	releaseErr  error
	released    atomic.Bool
}

// DevicePath resolves the V4L2 device node for cfg.
func DevicePath(cfg config.CameraConfig) string {
	if cfg.Device != "" {
		return cfg.Device
	}
	return fmt.Sprintf("/dev/video%d", cfg.DeviceIndex)
}

// NewGstSource builds the pipeline, starts it and waits for PLAYING.
func NewGstSource(cfg config.CameraConfig) (*GstSource, error) {
	device := DevicePath(cfg)

	elements, err := createPipeline(pipelineConfig{
		Device: device,
		Width:  cfg.Width,
		Height: cfg.Height,
		FPS:    cfg.FPS,
		MJPEG:  cfg.MJPEG,
	})
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		destroyPipeline(elements)
		return nil, fmt.Errorf("camera: failed to start pipeline on %s: %w", device, err)
	}

	if err := waitPlaying(elements, stateChangeTimeout); err != nil {
		destroyPipeline(elements)
		return nil, fmt.Errorf("camera: %s: %w", device, err)
	}

	readTimeout := time.Duration(cfg.ReadTimeout) * time.Millisecond
	if readTimeout <= 0 {
		readTimeout = 200 * time.Millisecond
	}

	return &GstSource{
		elements:    elements,
		device:      device,
		width:       cfg.Width,
		height:      cfg.Height,
		fps:         cfg.FPS,
		readTimeout: readTimeout,
		bus:         startBusWatcher(elements.Pipeline, device),
	}, nil
}

// waitPlaying drains the bus until the pipeline reports PLAYING, an error, or timeout.
func waitPlaying(elements *pipelineElements, timeout time.Duration) error {
	bus := elements.Pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("camera: pipeline error during startup",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return fmt.Errorf("pipeline error: %s", gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() != elements.Pipeline.GetName() {
				continue
			}
			_, newState := msg.ParseStateChanged()
			if newState == gst.StatePlaying {
				slog.Debug("camera: pipeline reached PLAYING state")
				return nil
			}
		}
	}

	return fmt.Errorf("pipeline did not reach PLAYING within %v", timeout)
}

// Read pulls the newest sample from the appsink.
//
// This method:
//  1. Pulls a sample (bounded by readTimeout)
//  2. Maps the buffer to read pixel data
//  3. Copies data (GStreamer will reuse the buffer)
//  4. Assigns sequence number and trace ID
func (s *GstSource) Read() (*types.Frame, bool) {
	if s.released.Load() {
		return nil, false
	}

	sample := s.elements.AppSink.TryPullSample(s.readTimeout)
	if sample == nil {
		return nil, false
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Debug("camera: sample without buffer, skipping frame")
		return nil, false
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Debug("camera: empty buffer received")
		return nil, false
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	atomic.AddUint64(&s.bytesRead, uint64(len(frameData)))

	frame := &types.Frame{
		Seq:       atomic.AddUint64(&s.seq, 1),
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Format:    types.FormatRGB,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	if !frame.Valid() {
		slog.Warn("camera: frame size mismatch, skipping",
			"seq", frame.Seq,
			"bytes", len(frameData),
			"expected", s.width*s.height*3,
		)
		return nil, false
	}

	return frame, true
}

// Release stops the pipeline and frees the device. Idempotent.
func (s *GstSource) Release() error {
	s.releaseOnce.Do(func() {
		s.released.Store(true)
		s.bus.stop()
		s.releaseErr = destroyPipeline(s.elements)
		slog.Info("camera: gstreamer source released",
			"device", s.device,
			"frames", atomic.LoadUint64(&s.seq),
			"bytes_read", atomic.LoadUint64(&s.bytesRead),
		)
	})
	return s.releaseErr
}

// Released reports whether Release has been called.
func (s *GstSource) Released() bool {
	return s.released.Load()
}

// Info reports the negotiated mode.
func (s *GstSource) Info() capture.Info {
	return capture.Info{
		Backend: "gstreamer",
		Device:  s.device,
		Width:   s.width,
		Height:  s.height,
		FPS:     float64(s.fps),
	}
}

// BusErrors returns pipeline error counters observed since startup.
func (s *GstSource) BusErrors() BusErrors {
	return s.bus.snapshot()
}
