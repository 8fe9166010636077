package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pose relay configuration.
// It is resolved once at startup and never reloaded.
type Config struct {
	InstanceID       string            `yaml:"instance_id"`
	ShutdownTimeoutS int               `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 3)
	Camera           CameraConfig      `yaml:"camera"`
	Inference        InferenceConfig   `yaml:"inference"`
	Topology         TopologyConfig    `yaml:"topology"`
	Pipeline         PipelineConfig    `yaml:"pipeline"`
	Publish          PublishConfig     `yaml:"publish"`
	Performance      PerformanceConfig `yaml:"performance"`
	Telemetry        TelemetryConfig   `yaml:"telemetry"`
}

// CameraConfig contains capture device settings
type CameraConfig struct {
	Backend     string `yaml:"backend"`      // gstreamer, opencv
	DeviceIndex int    `yaml:"device_index"` // /dev/video<N> or OpenCV index
	Device      string `yaml:"device"`       // explicit device path, overrides device_index (gstreamer only)
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	MJPEG       bool   `yaml:"mjpeg"`     // request MJPG from the device
	WarmupS     int    `yaml:"warmup_s"`  // FPS stability measurement before start (0 = off)
	ReadTimeout int    `yaml:"read_timeout_ms"`
}

// InferenceConfig contains pose model worker settings
type InferenceConfig struct {
	Command    string  `yaml:"command"`    // worker launcher (venv wrapper script)
	ModelPath  string  `yaml:"model_path"`
	InputSize  int     `yaml:"input_size"` // long side in pixels sent to the worker
	Confidence float64 `yaml:"confidence"`
	IOU        float64 `yaml:"iou"`
	TimeoutMS  int     `yaml:"timeout_ms"` // per-frame round trip budget
	Warmup     bool    `yaml:"warmup"`
}

// TopologyConfig describes the keypoint layout of the pose model.
// Indices are used by the slot assigner to compute the lateral anchor.
type TopologyConfig struct {
	Keypoints        int `yaml:"keypoints"`
	LeftHip          int `yaml:"left_hip"`
	RightHip         int `yaml:"right_hip"`
	FallbackShoulder int `yaml:"fallback_shoulder"`
}

// PipelineConfig contains main loop settings
type PipelineConfig struct {
	FrameSkip         int     `yaml:"frame_skip"`  // forward every (skip+1)-th frame
	MaxPlayers        int     `yaml:"max_players"`
	IdleBackoffMS     int     `yaml:"idle_backoff_ms"`
	ReadRetryMS       int     `yaml:"read_retry_ms"`
	JoinTimeoutMS     int     `yaml:"join_timeout_ms"`
	DefaultVisibility float64 `yaml:"default_visibility"`
}

// PublishConfig contains the UDP destination of the game client
type PublishConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PerformanceConfig contains rolling FPS monitor settings
type PerformanceConfig struct {
	Window           int     `yaml:"window"`
	ReportIntervalMS int     `yaml:"report_interval_ms"`
	TargetFPS        float64 `yaml:"target_fps"`
	LowFPS           float64 `yaml:"low_fps"`
}

// TelemetryConfig contains optional out-of-band observability sinks
type TelemetryConfig struct {
	HTTPAddr  string     `yaml:"http_addr"` // empty disables the health server
	Websocket bool       `yaml:"websocket"` // mirror packets on /ws/poses
	MQTT      MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains MQTT broker settings for health reports
type MQTTConfig struct {
	Broker string `yaml:"broker"` // host:port, empty disables
	Topic  string `yaml:"topic"`
	QoS    byte   `yaml:"qos"`
}

// Default returns a Config populated with the defaults the relay ships with.
func Default() *Config {
	return &Config{
		InstanceID:       "strikesync",
		ShutdownTimeoutS: 3,
		Camera: CameraConfig{
			Backend:     "gstreamer",
			DeviceIndex: 0,
			Width:       640,
			Height:      360,
			FPS:         30,
			MJPEG:       true,
			ReadTimeout: 200,
		},
		Inference: InferenceConfig{
			Command:    "models/run_pose_worker.sh",
			ModelPath:  "models/yolo11n-pose.onnx",
			InputSize:  256,
			Confidence: 0.4,
			IOU:        0.5,
			TimeoutMS:  500,
			Warmup:     true,
		},
		Topology: TopologyConfig{
			Keypoints:        17,
			LeftHip:          11,
			RightHip:         12,
			FallbackShoulder: 5,
		},
		Pipeline: PipelineConfig{
			FrameSkip:         1,
			MaxPlayers:        2,
			IdleBackoffMS:     2,
			ReadRetryMS:       1,
			JoinTimeoutMS:     1000,
			DefaultVisibility: 0.5,
		},
		Publish: PublishConfig{
			Host: "127.0.0.1",
			Port: 9001,
		},
		Performance: PerformanceConfig{
			Window:           10,
			ReportIntervalMS: 2000,
			TargetFPS:        20,
			LowFPS:           15,
		},
	}
}

// Load reads and parses a YAML configuration file on top of Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes on top of Default() and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Address returns host:port of the publish destination.
func (p PublishConfig) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Timeout returns the per-frame inference budget.
func (i InferenceConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutMS) * time.Millisecond
}

// IdleBackoff returns the sleep applied when the hand-off buffer is empty.
func (p PipelineConfig) IdleBackoff() time.Duration {
	return time.Duration(p.IdleBackoffMS) * time.Millisecond
}

// ReadRetry returns the sleep applied after a failed camera read.
func (p PipelineConfig) ReadRetry() time.Duration {
	return time.Duration(p.ReadRetryMS) * time.Millisecond
}

// JoinTimeout returns how long shutdown waits for the capture goroutine.
func (p PipelineConfig) JoinTimeout() time.Duration {
	return time.Duration(p.JoinTimeoutMS) * time.Millisecond
}

// ReportInterval returns the performance report period.
func (p PerformanceConfig) ReportInterval() time.Duration {
	return time.Duration(p.ReportIntervalMS) * time.Millisecond
}
