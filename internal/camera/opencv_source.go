//go:build gocv

package camera

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/technospes/StrikeSync-Project/internal/capture"
	"github.com/technospes/StrikeSync-Project/internal/config"
	"github.com/technospes/StrikeSync-Project/internal/types"
)

// OpenCVSource reads frames through OpenCV's VideoCapture.
// Built only with -tags gocv.
type OpenCVSource struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	bgr    gocv.Mat
	rgb    gocv.Mat
	index  int
	width  int
	height int
	fps    float64

	seq      uint64
	released atomic.Bool
}

// NewOpenCVSource opens the camera at cfg.DeviceIndex and requests the
// configured mode. Width/height/fps are read back from the device.
func NewOpenCVSource(cfg config.CameraConfig) (capture.Source, error) {
	vc, err := gocv.VideoCaptureDevice(cfg.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("camera: failed to open camera %d: %w", cfg.DeviceIndex, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera: camera %d not opened", cfg.DeviceIndex)
	}

	if cfg.MJPEG {
		vc.Set(gocv.VideoCaptureFOURCC, vc.ToCodec("MJPG"))
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	s := &OpenCVSource{
		cap:    vc,
		bgr:    gocv.NewMat(),
		rgb:    gocv.NewMat(),
		index:  cfg.DeviceIndex,
		width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		fps:    vc.Get(gocv.VideoCaptureFPS),
	}

	if s.width != cfg.Width || s.height != cfg.Height {
		slog.Warn("camera: camera negotiated a different resolution",
			"requested", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			"actual", fmt.Sprintf("%dx%d", s.width, s.height),
		)
	}

	return s, nil
}

// Read grabs one frame and converts BGR to packed RGB.
func (s *OpenCVSource) Read() (*types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released.Load() {
		return nil, false
	}
	if ok := s.cap.Read(&s.bgr); !ok || s.bgr.Empty() {
		return nil, false
	}

	gocv.CvtColor(s.bgr, &s.rgb, gocv.ColorBGRToRGB)

	return &types.Frame{
		Seq:       atomic.AddUint64(&s.seq, 1),
		Timestamp: time.Now(),
		Width:     s.rgb.Cols(),
		Height:    s.rgb.Rows(),
		Format:    types.FormatRGB,
		Data:      s.rgb.ToBytes(),
		TraceID:   uuid.New().String(),
	}, true
}

// Release closes the device and frees the Mats. Idempotent.
func (s *OpenCVSource) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bgr.Close()
	s.rgb.Close()
	err := s.cap.Close()

	slog.Info("camera: opencv source released", "index", s.index, "frames", atomic.LoadUint64(&s.seq))
	return err
}

// Info reports the negotiated mode.
func (s *OpenCVSource) Info() capture.Info {
	return capture.Info{
		Backend: "opencv",
		Device:  fmt.Sprintf("index %d", s.index),
		Width:   s.width,
		Height:  s.height,
		FPS:     s.fps,
	}
}
