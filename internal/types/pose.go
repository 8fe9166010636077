package types

// Keypoint represents a single pose keypoint in source-frame pixel space.
type Keypoint struct {
	X          float64
	Y          float64
	Confidence float64
	// HasConfidence is false when the model did not report a per-point
	// confidence for this index. Encoders substitute a neutral default.
	HasConfidence bool
}

// Detection is one person detected in one frame: an ordered, fixed-length
// sequence of keypoints following the model topology (e.g. COCO-17).
// Detections carry no identity across frames.
type Detection struct {
	Keypoints []Keypoint
}

// Keypoint returns the keypoint at index i, or false when the detection's
// topology does not include that index.
func (d Detection) Keypoint(i int) (Keypoint, bool) {
	if i < 0 || i >= len(d.Keypoints) {
		return Keypoint{}, false
	}
	return d.Keypoints[i], true
}

// NormalizedLandmark is a keypoint rescaled to [0,1] by frame size.
// Z is always 0 (no depth). V carries the keypoint confidence.
type NormalizedLandmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	V float64 `json:"v"`
}

// Player is one slot in the outbound packet.
type Player struct {
	ID        int                  `json:"id"`
	Landmarks []NormalizedLandmark `json:"landmarks"`
}

// Packet is the per-frame payload sent to the game client.
// Players is ordered by slot and never longer than the configured maximum.
type Packet struct {
	Players []Player `json:"players"`
}
