package types

import "time"

// FormatRGB is packed 24-bit RGB, row-major, no padding (stride = Width*3).
const FormatRGB = "RGB"

// Frame represents a single camera frame.
//
// A Frame is immutable once it leaves the Source: it travels
// Source → handoff.Buffer → inference.Detector and is owned by exactly one
// holder at a time. Nothing writes to Data after Read returns it.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the Source
	Seq uint64
	// Timestamp is when the frame was pulled from the device
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format of Data (FormatRGB)
	Format string
	// Data contains the pixel data
	Data []byte
	// TraceID is a unique identifier for following one frame through the logs
	TraceID string
}

// FrameMeta contains frame metadata without the raw data
type FrameMeta struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	TraceID   string
}

// Meta returns the frame metadata (safe to log, no pixel data)
func (f *Frame) Meta() FrameMeta {
	return FrameMeta{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Width:     f.Width,
		Height:    f.Height,
		TraceID:   f.TraceID,
	}
}

// Valid reports whether the frame dimensions and data length agree.
func (f *Frame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	if f.Format == FormatRGB {
		return len(f.Data) == f.Width*f.Height*3
	}
	return len(f.Data) > 0
}
