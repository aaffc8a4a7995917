// Package telemetry publishes controller statistics to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	cameraframework "github.com/likelystudying/camera-framework"
	"github.com/likelystudying/camera-framework/internal/capture"
	"github.com/likelystudying/camera-framework/internal/config"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("telemetry: mqtt not connected")

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Client is the subset of mqtt.Client the publisher uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Report is the stats message body.
type Report struct {
	InstanceID    string    `json:"instance_id"`
	State         string    `json:"state"`
	SessionID     string    `json:"session_id,omitempty"`
	Sessions      uint64    `json:"sessions"`
	Frames        uint64    `json:"frames"`
	FramesDropped uint64    `json:"frames_dropped"`
	ReadFailures  uint64    `json:"read_failures"`
	FPS           float64   `json:"fps"`
	FPSMean       float64   `json:"fps_mean"`
	FPSStdDev     float64   `json:"fps_stddev"`
	Stable        bool      `json:"stable"`
	QueueLen      int       `json:"queue_len"`
	QueueCap      int       `json:"queue_cap"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	LastError     string    `json:"last_error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewReport flattens controller stats into a Report.
func NewReport(instanceID string, st cameraframework.Stats, now time.Time) Report {
	r := Report{
		InstanceID:    instanceID,
		State:         st.State.String(),
		SessionID:     st.SessionID,
		Sessions:      st.Sessions,
		Frames:        st.Frames,
		FramesDropped: st.FramesDropped,
		ReadFailures:  st.ReadFailures,
		FPS:           st.LastFPS,
		FPSMean:       st.Window.FPSMean,
		FPSStdDev:     st.Window.FPSStdDev,
		Stable:        st.Window.IsStable,
		QueueLen:      st.QueueLen,
		QueueCap:      st.QueueCap,
		UptimeSeconds: int64(st.Uptime.Seconds()),
		Timestamp:     now.UTC(),
	}
	if st.LastError != nil {
		r.LastError = st.LastError.Error()
	}
	return r
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Publisher sends Reports on cfg.Topic and state changes, retained, on
// cfg.Topic + "/state".
type Publisher struct {
	cfg    config.TelemetryConfig
	client Client
	clk    clock.Clock
	log    capture.Logger

	published atomic.Uint64
	errors    atomic.Uint64
	closeOnce sync.Once
}

// NewPublisher wraps an already connected client.
func NewPublisher(cfg config.TelemetryConfig, client Client, clk clock.Clock, logger capture.Logger) *Publisher {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, client: client, clk: clk, log: logger}
}

// Connect dials cfg.Broker with auto-reconnect and returns a Publisher.
func Connect(ctx context.Context, cfg config.TelemetryConfig, clientID string, logger capture.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("telemetry: mqtt connection established", "broker", cfg.Broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("telemetry: mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	logger.Info("telemetry: connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		client.Disconnect(0)
		return nil, fmt.Errorf("telemetry: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}
	return NewPublisher(cfg, client, nil, logger), nil
}

// Publish sends one report and waits for the broker acknowledgement.
func (p *Publisher) Publish(r Report) error {
	if !p.client.IsConnected() {
		p.errors.Add(1)
		return ErrNotConnected
	}
	payload, err := json.Marshal(r)
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("telemetry: failed to marshal report: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.errors.Add(1)
		return fmt.Errorf("telemetry: publish timeout")
	}
	if err := token.Error(); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("telemetry: publish failed: %w", err)
	}
	p.published.Add(1)
	p.log.Debug("telemetry: report published", "topic", p.cfg.Topic, "size", len(payload))
	return nil
}

// PublishState sends a retained state message without waiting, so it is
// safe to call from a state hook.
func (p *Publisher) PublishState(from, to cameraframework.State) {
	if !p.client.IsConnected() {
		p.errors.Add(1)
		return
	}
	payload := fmt.Sprintf(`{"from":%q,"to":%q,"timestamp":%q}`,
		from, to, p.clk.Now().UTC().Format(time.RFC3339Nano))
	p.client.Publish(p.cfg.Topic+"/state", p.cfg.QoS, true, []byte(payload))
	p.published.Add(1)
}

// Run publishes stats() every interval until ctx is done. Publish errors
// are logged and do not stop the loop.
func (p *Publisher) Run(ctx context.Context, interval time.Duration, stats func() Report) error {
	if interval <= 0 {
		return fmt.Errorf("telemetry: invalid interval %v", interval)
	}
	ticker := p.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Publish(stats()); err != nil {
				p.log.Warn("telemetry: publish failed", "topic", p.cfg.Topic, "error", err)
			}
		}
	}
}

// Close disconnects with a 250ms grace period. Idempotent.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.client.IsConnected() {
			p.client.Disconnect(250)
			p.log.Info("telemetry: mqtt disconnected")
		}
	})
}

// Stats returns publisher statistics
func (p *Publisher) Stats() Stats {
	return Stats{
		Connected: p.client.IsConnected(),
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
	}
}
