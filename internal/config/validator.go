package config

import (
	"errors"
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks if the configuration is valid and fills derived defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return invalid("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return invalid("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 3
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return err
	}
	if err := validateInference(&cfg.Inference); err != nil {
		return err
	}
	if err := ValidateTopology(cfg.Topology); err != nil {
		return err
	}

	// Pipeline
	if cfg.Pipeline.FrameSkip < 0 {
		return invalid("pipeline.frame_skip must be >= 0")
	}
	if cfg.Pipeline.MaxPlayers <= 0 {
		return invalid("pipeline.max_players must be > 0")
	}
	if cfg.Pipeline.IdleBackoffMS <= 0 {
		cfg.Pipeline.IdleBackoffMS = 2
	}
	if cfg.Pipeline.ReadRetryMS <= 0 {
		cfg.Pipeline.ReadRetryMS = 1
	}
	if cfg.Pipeline.JoinTimeoutMS <= 0 {
		cfg.Pipeline.JoinTimeoutMS = 1000
	}
	if cfg.Pipeline.DefaultVisibility < 0 || cfg.Pipeline.DefaultVisibility > 1 {
		return invalid("pipeline.default_visibility must be in [0,1]")
	}

	// Publish
	if cfg.Publish.Host == "" {
		return invalid("publish.host is required")
	}
	if cfg.Publish.Port <= 0 || cfg.Publish.Port > 65535 {
		return invalid("publish.port %d out of range", cfg.Publish.Port)
	}

	// Performance
	if cfg.Performance.Window <= 0 {
		cfg.Performance.Window = 10
	}
	if cfg.Performance.ReportIntervalMS <= 0 {
		cfg.Performance.ReportIntervalMS = 2000
	}
	if cfg.Performance.TargetFPS <= 0 {
		return invalid("performance.target_fps must be > 0")
	}

	// Telemetry
	if cfg.Telemetry.MQTT.Broker != "" && cfg.Telemetry.MQTT.Topic == "" {
		cfg.Telemetry.MQTT.Topic = fmt.Sprintf("strikesync/health/%s", cfg.InstanceID)
	}
	if cfg.Telemetry.MQTT.QoS > 2 {
		return invalid("telemetry.mqtt.qos must be 0, 1 or 2")
	}
	if cfg.Telemetry.Websocket && cfg.Telemetry.HTTPAddr == "" {
		return invalid("telemetry.websocket requires telemetry.http_addr")
	}

	return nil
}

func validateCamera(cam *CameraConfig) error {
	switch cam.Backend {
	case "":
		cam.Backend = "gstreamer"
	case "gstreamer", "opencv":
	default:
		return invalid("camera.backend '%s' unknown (must be 'gstreamer' or 'opencv')", cam.Backend)
	}

	if cam.DeviceIndex < 0 {
		return invalid("camera.device_index must be >= 0")
	}
	if cam.Width <= 0 || cam.Height <= 0 {
		return invalid("camera resolution %dx%d invalid", cam.Width, cam.Height)
	}
	if cam.FPS <= 0 || cam.FPS > 120 {
		return invalid("camera.fps %d out of range (1-120)", cam.FPS)
	}
	if cam.WarmupS < 0 {
		return invalid("camera.warmup_s must be >= 0")
	}
	if cam.ReadTimeout <= 0 {
		cam.ReadTimeout = 200
	}
	return nil
}

func validateInference(inf *InferenceConfig) error {
	if inf.Command == "" {
		return invalid("inference.command is required")
	}
	if inf.ModelPath == "" {
		return invalid("inference.model_path is required")
	}
	if inf.InputSize < 32 {
		return invalid("inference.input_size must be >= 32")
	}
	if inf.Confidence <= 0 || inf.Confidence > 1 {
		return invalid("inference.confidence must be in (0,1]")
	}
	if inf.IOU <= 0 || inf.IOU > 1 {
		return invalid("inference.iou must be in (0,1]")
	}
	if inf.TimeoutMS <= 0 {
		inf.TimeoutMS = 500
	}
	return nil
}

// ValidateTopology checks that the anchor indices fall inside the keypoint layout.
func ValidateTopology(t TopologyConfig) error {
	if t.Keypoints <= 0 {
		return invalid("topology.keypoints must be > 0")
	}
	for name, idx := range map[string]int{
		"left_hip":          t.LeftHip,
		"right_hip":         t.RightHip,
		"fallback_shoulder": t.FallbackShoulder,
	} {
		if idx < 0 || idx >= t.Keypoints {
			return invalid("topology.%s index %d outside [0,%d)", name, idx, t.Keypoints)
		}
	}
	return nil
}
