package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/technospes/StrikeSync-Project/internal/config"
	"github.com/technospes/StrikeSync-Project/internal/perf"
)

const publishTimeout = 2 * time.Second

// ErrNotConnected is returned by Report while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt not connected")

// MQTTStats contains reporter counters
type MQTTStats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// healthMessage is the payload published for each performance report.
type healthMessage struct {
	InstanceID string      `json:"instance_id"`
	Report     perf.Report `json:"report"`
}

// MQTTReporter publishes performance reports to an MQTT broker.
type MQTTReporter struct {
	instanceID string
	cfg        config.MQTTConfig
	Client     mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
	pending   sync.WaitGroup
}

// NewMQTTReporter creates a reporter. It does not connect until Connect.
func NewMQTTReporter(instanceID string, cfg config.MQTTConfig) *MQTTReporter {
	return &MQTTReporter{instanceID: instanceID, cfg: cfg}
}

// Connect establishes the broker connection. The client keeps reconnecting
// in the background after a later connection loss.
func (e *MQTTReporter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.instanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("telemetry: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.instanceID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("telemetry: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Report publishes r without blocking the caller; completion is awaited on
// a separate goroutine and failures are only counted.
func (e *MQTTReporter) Report(r perf.Report) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(healthMessage{InstanceID: e.instanceID, Report: r})
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	token := e.Client.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		if !token.WaitTimeout(publishTimeout) {
			e.countError()
			slog.Debug("telemetry: mqtt publish timeout", "topic", e.cfg.Topic)
			return
		}
		if err := token.Error(); err != nil {
			e.countError()
			slog.Debug("telemetry: mqtt publish failed", "topic", e.cfg.Topic, "error", err)
			return
		}
		e.mu.Lock()
		e.published++
		e.mu.Unlock()
	}()
	return nil
}

// Disconnect waits for outstanding publishes and closes the connection.
func (e *MQTTReporter) Disconnect() {
	e.pending.Wait()
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("telemetry: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns reporter counters.
func (e *MQTTReporter) Stats() MQTTStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return MQTTStats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTReporter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTReporter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTReporter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
