// Package capture runs the capture worker goroutine that feeds the hand-off
// buffer, and defines the Source contract camera backends implement.
package capture

import "github.com/technospes/StrikeSync-Project/internal/types"

// Source is a camera device producing raw frames.
//
// Read returns the next frame, or false on a transient read miss (no frame
// ready, device hiccup). Callers retry after a short sleep.
// Release frees the device; it is idempotent.
type Source interface {
	Read() (*types.Frame, bool)
	Release() error
}

// Info describes the mode a source actually negotiated with the device.
type Info struct {
	Backend string
	Device  string
	Width   int
	Height  int
	FPS     float64
}

// Describer is implemented by sources that can report their negotiated mode.
type Describer interface {
	Info() Info
}
