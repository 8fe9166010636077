package assign

import (
	"fmt"

	"github.com/technospes/StrikeSync-Project/internal/config"
)

// Topology names the keypoint indices the assigner reads from a Detection.
type Topology struct {
	Length           int
	LeftHip          int
	RightHip         int
	FallbackShoulder int
}

// COCO17 is the 17-keypoint COCO layout used by YOLO pose models
//
//	0 nose, 1-4 eyes/ears, 5/6 shoulders, 7/8 elbows, 9/10 wrists,
//	11/12 hips, 13/14 knees, 15/16 ankles
var COCO17 = Topology{Length: 17, LeftHip: 11, RightHip: 12, FallbackShoulder: 5}

// TopologyFromConfig converts and validates the configured layout.
func TopologyFromConfig(cfg config.TopologyConfig) (Topology, error) {
	if err := config.ValidateTopology(cfg); err != nil {
		return Topology{}, fmt.Errorf("assign: %w", err)
	}
	return Topology{
		Length:           cfg.Keypoints,
		LeftHip:          cfg.LeftHip,
		RightHip:         cfg.RightHip,
		FallbackShoulder: cfg.FallbackShoulder,
	}, nil
}
