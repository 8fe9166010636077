package camera

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies camera pipeline errors for telemetry.
type ErrorCategory int

const (
	// ErrCategoryDevice covers a missing, busy or disconnected device
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryFormat covers caps negotiation and decode failures
	ErrCategoryFormat
	// ErrCategoryPermission covers access to the device node
	ErrCategoryPermission
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryFormat:
		return "format"
	case ErrCategoryPermission:
		return "permission"
	default:
		return "unknown"
	}
}

var (
	permissionKeywords = []string{"permission denied", "not permitted", "eacces"}
	formatKeywords     = []string{"not-negotiated", "not negotiated", "caps", "format", "decode", "jpeg", "corrupt"}
	deviceKeywords     = []string{"no such device", "no such file", "busy", "cannot identify device", "could not open", "disconnected", "i/o error", "v4l2"}
)

// ClassifyError buckets a GStreamer error by message and debug text.
// go-gst's GError does not expose the domain, so this is string matching.
func ClassifyError(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)

	switch {
	case containsAny(combined, permissionKeywords):
		return ErrCategoryPermission
	case containsAny(combined, formatKeywords):
		return ErrCategoryFormat
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	}
	return ErrCategoryUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// BusErrors counts pipeline errors seen after startup, per category.
type BusErrors struct {
	Device     uint64 `json:"device"`
	Format     uint64 `json:"format"`
	Permission uint64 `json:"permission"`
	Unknown    uint64 `json:"unknown"`
	EOS        bool   `json:"eos"`
}

// busWatcher drains the pipeline bus on its own goroutine once the source
// is playing. Errors are logged and counted; reads keep failing softly and
// the capture worker keeps retrying.
type busWatcher struct {
	counts [4]uint64
	eos    atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startBusWatcher(pipeline *gst.Pipeline, device string) *busWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &busWatcher{cancel: cancel}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, pipeline, device)
	}()
	return w
}

func (w *busWatcher) run(ctx context.Context, pipeline *gst.Pipeline, device string) {
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Short poll keeps Release responsive
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			w.eos.Store(true)
			slog.Warn("camera: end of stream from camera", "device", device)

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyError(gerr.Error(), gerr.DebugString())
			atomic.AddUint64(&w.counts[category], 1)

			slog.Error("camera: pipeline error",
				"device", device,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
			)

		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			slog.Warn("camera: pipeline warning", "device", device, "warning", gerr.Error())
		}
	}
}

func (w *busWatcher) stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *busWatcher) snapshot() BusErrors {
	return BusErrors{
		Device:     atomic.LoadUint64(&w.counts[ErrCategoryDevice]),
		Format:     atomic.LoadUint64(&w.counts[ErrCategoryFormat]),
		Permission: atomic.LoadUint64(&w.counts[ErrCategoryPermission]),
		Unknown:    atomic.LoadUint64(&w.counts[ErrCategoryUnknown]),
		EOS:        w.eos.Load(),
	}
}
