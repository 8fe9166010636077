// Package assign maps the unordered detections of one frame onto numbered
// player slots.
package assign

import (
	"sort"

	"github.com/technospes/StrikeSync-Project/internal/types"
)

// Assignment binds one detection to an output slot for a single frame.
type Assignment struct {
	Slot      int
	Detection types.Detection
}

// Strategy decides which detection goes to which slot. Implementations are
// called once per frame from the pipeline goroutine.
type Strategy interface {
	Assign(dets []types.Detection, maxPlayers int) []Assignment
}

// Positional orders people left to right by a lateral anchor and gives slot 0
// to the leftmost. Slots are re-derived every frame with no memory, so two
// players who cross over swap slots.
type Positional struct {
	Topology Topology
}

// NewPositional returns a Positional strategy for the given topology.
func NewPositional(t Topology) *Positional {
	return &Positional{Topology: t}
}

// Anchor returns the horizontal coordinate used to order det.
//
// Preference: hip midpoint when both hips are in the detection, else the
// fallback shoulder, else keypoint 0, else 0.
func (p *Positional) Anchor(det types.Detection) float64 {
	t := p.Topology

	left, okL := det.Keypoint(t.LeftHip)
	right, okR := det.Keypoint(t.RightHip)
	if okL && okR {
		return (left.X + right.X) / 2
	}
	if kp, ok := det.Keypoint(t.FallbackShoulder); ok {
		return kp.X
	}
	if kp, ok := det.Keypoint(0); ok {
		return kp.X
	}
	return 0
}

// Assign sorts dets by anchor (stable, so ties keep detection order),
// keeps the first maxPlayers and numbers them from 0.
func (p *Positional) Assign(dets []types.Detection, maxPlayers int) []Assignment {
	if len(dets) == 0 || maxPlayers <= 0 {
		return nil
	}

	type anchored struct {
		x   float64
		det types.Detection
	}

	ordered := make([]anchored, len(dets))
	for i, d := range dets {
		ordered[i] = anchored{x: p.Anchor(d), det: d}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].x < ordered[j].x
	})

	if len(ordered) > maxPlayers {
		ordered = ordered[:maxPlayers]
	}

	out := make([]Assignment, len(ordered))
	for slot, a := range ordered {
		out[slot] = Assignment{Slot: slot, Detection: a.det}
	}
	return out
}
