// Package packet builds the per-frame wire packet sent to the game client.
//
// Wire format (one JSON object per datagram):
//
//	{"players":[{"id":0,"landmarks":[{"x":0.5,"y":0.4,"z":0,"v":0.93}, ...]}, ...]}
//
// The players array is always present, empty when nobody is detected.
package packet

import (
	"encoding/json"
	"fmt"

	"github.com/technospes/StrikeSync-Project/internal/assign"
	"github.com/technospes/StrikeSync-Project/internal/types"
)

// DefaultVisibility is used for keypoints the model reported without confidence.
const DefaultVisibility = 0.5

// Encoder normalizes assigned detections into a Packet.
type Encoder struct {
	DefaultVisibility float64
}

// NewEncoder returns an Encoder using v for keypoints without confidence.
func NewEncoder(v float64) *Encoder {
	return &Encoder{DefaultVisibility: v}
}

// Encode converts assignments for a width×height frame into a Packet.
// Landmarks are (x/width, y/height, 0, confidence) in topology order and
// players are ordered by slot. A zero-size frame yields an empty packet.
func (e *Encoder) Encode(assignments []assign.Assignment, width, height int) types.Packet {
	pkt := types.Packet{Players: make([]types.Player, 0, len(assignments))}
	if width <= 0 || height <= 0 {
		return pkt
	}

	w, h := float64(width), float64(height)
	for _, a := range assignments {
		landmarks := make([]types.NormalizedLandmark, len(a.Detection.Keypoints))
		for i, kp := range a.Detection.Keypoints {
			v := e.DefaultVisibility
			if kp.HasConfidence {
				v = kp.Confidence
			}
			landmarks[i] = types.NormalizedLandmark{X: kp.X / w, Y: kp.Y / h, Z: 0, V: v}
		}
		pkt.Players = append(pkt.Players, types.Player{ID: a.Slot, Landmarks: landmarks})
	}
	return pkt
}

// Marshal returns the wire bytes for pkt.
func Marshal(pkt types.Packet) ([]byte, error) {
	if pkt.Players == nil {
		pkt.Players = []types.Player{}
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return nil, fmt.Errorf("packet: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal parses wire bytes. A datagram without a players array is rejected.
func Unmarshal(data []byte) (types.Packet, error) {
	var raw struct {
		Players *[]types.Player `json:"players"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.Packet{}, fmt.Errorf("packet: unmarshal: %w", err)
	}
	if raw.Players == nil {
		return types.Packet{}, fmt.Errorf("packet: missing players array")
	}
	return types.Packet{Players: *raw.Players}, nil
}
