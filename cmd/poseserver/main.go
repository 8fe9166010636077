package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/technospes/StrikeSync-Project/internal/assign"
	"github.com/technospes/StrikeSync-Project/internal/camera"
	"github.com/technospes/StrikeSync-Project/internal/capture"
	"github.com/technospes/StrikeSync-Project/internal/config"
	"github.com/technospes/StrikeSync-Project/internal/core"
	"github.com/technospes/StrikeSync-Project/internal/handoff"
	"github.com/technospes/StrikeSync-Project/internal/inference"
	"github.com/technospes/StrikeSync-Project/internal/packet"
	"github.com/technospes/StrikeSync-Project/internal/perf"
	"github.com/technospes/StrikeSync-Project/internal/publish"
	"github.com/technospes/StrikeSync-Project/internal/telemetry"
)

const defaultConfigPath = "config/strikesync.yaml"

// serverStats is the /stats payload.
type serverStats struct {
	core.Stats
	UDP       publish.UDPStats     `json:"udp"`
	Viewers   *publish.HubStats    `json:"viewers,omitempty"`
	MQTT      *telemetry.MQTTStats `json:"mqtt,omitempty"`
	CameraBus *camera.BusErrors    `json:"camera_bus,omitempty"`
}

// busReporter is implemented by the GStreamer source.
type busReporter interface {
	BusErrors() camera.BusErrors
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(*configPath, *debug); err != nil {
		slog.Error("pose relay failed", "error", err)
		os.Exit(1)
	}

	slog.Info("pose relay stopped successfully")
}

func run(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting strikesync pose relay",
		"config", configPath,
		"debug", debug,
		"instance_id", cfg.InstanceID,
		"camera", fmt.Sprintf("%s #%d %dx%d@%d", cfg.Camera.Backend, cfg.Camera.DeviceIndex, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS),
		"inference_size", cfg.Inference.InputSize,
		"frame_skip", cfg.Pipeline.FrameSkip,
		"max_players", cfg.Pipeline.MaxPlayers,
		"publish", cfg.Publish.Address(),
	)

	// Cancelled on SIGINT/SIGTERM, including during startup and warm-ups
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resources acquired before the pipeline takes ownership are released
	// here, in reverse order, if startup fails.
	var owned []func() error
	defer func() {
		for i := len(owned) - 1; i >= 0; i-- {
			if err := owned[i](); err != nil {
				slog.Warn("startup cleanup failed", "error", err)
			}
		}
	}()

	// 1. Camera
	src, err := camera.Open(cfg.Camera)
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	owned = append(owned, src.Release)

	if cfg.Camera.WarmupS > 0 {
		stats, err := capture.Warmup(ctx, src, time.Duration(cfg.Camera.WarmupS)*time.Second)
		if err != nil && ctx.Err() != nil {
			return startupError(ctx, err)
		}
		if err != nil {
			slog.Warn("camera warm-up failed, continuing", "error", err)
		} else if !stats.IsStable {
			slog.Warn("camera frame rate unstable", "fps_mean", stats.FPSMean, "fps_stddev", stats.FPSStdDev)
		}
	}

	// 2. Slot assignment
	topology, err := assign.TopologyFromConfig(cfg.Topology)
	if err != nil {
		return err
	}

	// 3. Pose model
	worker, err := inference.NewPythonWorker(inference.WorkerConfig{
		Command:       cfg.Inference.Command,
		ModelPath:     cfg.Inference.ModelPath,
		InputSize:     cfg.Inference.InputSize,
		Confidence:    cfg.Inference.Confidence,
		IOU:           cfg.Inference.IOU,
		MaxDetections: cfg.Pipeline.MaxPlayers,
		Timeout:       cfg.Inference.Timeout(),
	})
	if err != nil {
		return err
	}
	if err := worker.Start(ctx); err != nil {
		return startupError(ctx, fmt.Errorf("failed to start pose worker: %w", err))
	}
	owned = append(owned, worker.Close)

	if cfg.Inference.Warmup {
		if err := worker.Warmup(ctx, cfg.Camera.Width, cfg.Camera.Height); err != nil {
			return startupError(ctx, err)
		}
	}

	// 4. Publishers
	udp, err := publish.DialUDP(cfg.Publish.Address())
	if err != nil {
		return fmt.Errorf("failed to open udp socket: %w", err)
	}
	owned = append(owned, udp.Close)

	var (
		publisher publish.Publisher = udp
		hub       *publish.Hub
	)
	if cfg.Telemetry.Websocket {
		hub = publish.NewHub()
		publisher = publish.Fanout{udp, hub}
		owned = append(owned, hub.Close)
	}

	// 5. Telemetry
	monitor := perf.New(perf.Config{
		Window:    cfg.Performance.Window,
		Interval:  cfg.Performance.ReportInterval(),
		TargetFPS: cfg.Performance.TargetFPS,
		LowFPS:    cfg.Performance.LowFPS,
	}, time.Now())

	var (
		reporters []core.Reporter
		mqttRep   *telemetry.MQTTReporter
	)
	if cfg.Telemetry.MQTT.Broker != "" {
		mqttRep = telemetry.NewMQTTReporter(cfg.InstanceID, cfg.Telemetry.MQTT)
		if err := mqttRep.Connect(); err != nil {
			// The client keeps retrying in the background
			slog.Warn("mqtt unavailable at startup, reports will resume on reconnect", "error", err)
		}
		defer mqttRep.Disconnect()
		reporters = append(reporters, mqttRep)
	}

	pipeline, err := core.New(core.Deps{
		Source:    src,
		Buffer:    handoff.New(),
		Detector:  worker,
		Strategy:  assign.NewPositional(topology),
		Encoder:   packet.NewEncoder(cfg.Pipeline.DefaultVisibility),
		Publisher: publisher,
		Monitor:   monitor,
		Reporters: reporters,
	}, core.Options{
		FrameSkip:    cfg.Pipeline.FrameSkip,
		MaxPlayers:   cfg.Pipeline.MaxPlayers,
		IdleBackoff:  cfg.Pipeline.IdleBackoff(),
		ReadRetry:    cfg.Pipeline.ReadRetry(),
		JoinTimeout:  cfg.Pipeline.JoinTimeout(),
		WarnInterval: cfg.Performance.ReportInterval(),
	})
	if err != nil {
		return err
	}
	// The pipeline releases camera, model and sockets from here on
	owned = nil

	if cfg.Telemetry.HTTPAddr != "" {
		statsFn := func() any {
			s := serverStats{Stats: pipeline.Stats(), UDP: udp.Stats()}
			if hub != nil {
				hs := hub.Stats()
				s.Viewers = &hs
			}
			if mqttRep != nil {
				ms := mqttRep.Stats()
				s.MQTT = &ms
			}
			if br, ok := src.(busReporter); ok {
				be := br.BusErrors()
				s.CameraBus = &be
			}
			return s
		}

		var health *telemetry.HealthServer
		if hub != nil {
			health = telemetry.NewHealthServer(cfg.Telemetry.HTTPAddr, pipeline.Ready, statsFn, hub)
		} else {
			health = telemetry.NewHealthServer(cfg.Telemetry.HTTPAddr, pipeline.Ready, statsFn, nil)
		}
		if err := health.Start(); err != nil {
			slog.Warn("health server disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()
				if err := health.Shutdown(shutdownCtx); err != nil {
					slog.Warn("health server shutdown failed", "error", err)
				}
			}()
		}
	}

	// Run pipeline in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- pipeline.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
		stop() // a second signal terminates immediately
	case err := <-errChan:
		return shutdownResult(err)
	}

	// Graceful shutdown
	shutdownTimeout := cfg.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	select {
	case err := <-errChan:
		return shutdownResult(err)
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown did not complete within %s", shutdownTimeout)
	}
}

// startupError maps a startup failure to the exit status. A step that failed
// because an interrupt cancelled ctx is a clean exit, not an error.
func startupError(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		slog.Info("startup interrupted", "error", err)
		return nil
	}
	return err
}

// shutdownResult maps the pipeline's exit error to the exit status. A capture
// goroutine abandoned at the join timeout is only a warning; anything else,
// including release failures joined with that timeout, is fatal.
func shutdownResult(err error) error {
	if err == nil {
		return nil
	}
	if onlyJoinTimeout(err) {
		slog.Warn("capture goroutine abandoned at exit", "error", err)
		return nil
	}
	return err
}

// onlyJoinTimeout reports whether every leaf of err is capture.ErrJoinTimeout.
func onlyJoinTimeout(err error) bool {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if !onlyJoinTimeout(e) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, capture.ErrJoinTimeout)
}
