package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/andresmejia3/rollcall/internal/config"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// AttendanceEvent is the JSON payload published for each attendance record.
type AttendanceEvent struct {
	Session    string    `json:"session"`
	Identity   string    `json:"identity"`
	SeenAt     time.Time `json:"seen_at"`
	Distance   float64   `json:"distance"`
	Confidence float64   `json:"confidence"`
}

// MQTTPublisher publishes attendance events to an MQTT broker.
type MQTTPublisher struct {
	cfg     config.MQTTConfig
	session uuid.UUID
	logger  *slog.Logger
	Client  mqtt.Client // set before Connect to supply a custom client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// NewMQTTPublisher creates a publisher tagging every event with session.
func NewMQTTPublisher(cfg config.MQTTConfig, session uuid.UUID, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{cfg: cfg, session: session, logger: logger}
}

// BrokerURL adds the tcp:// scheme when the broker is a bare host:port.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes connection to MQTT broker
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if p.Client == nil {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(BrokerURL(p.cfg.Broker))
		opts.SetClientID(p.cfg.ClientID)
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectRetryInterval(2 * time.Second)
		opts.SetMaxReconnectInterval(30 * time.Second)

		opts.OnConnect = func(c mqtt.Client) {
			p.setConnected(true)
			p.logger.Info("mqtt connection established", "broker", p.cfg.Broker, "client_id", p.cfg.ClientID)
		}
		opts.OnConnectionLost = func(c mqtt.Client, err error) {
			p.setConnected(false)
			p.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", p.cfg.Broker)
		}
		p.Client = mqtt.NewClient(opts)
	}

	p.logger.Info("connecting to mqtt broker", "broker", p.cfg.Broker)

	token := p.Client.Connect()
	if err := wait(ctx, token, connectTimeout); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.setConnected(true)
	return nil
}

// Record publishes one attendance event.
func (p *MQTTPublisher) Record(ctx context.Context, identity string, at time.Time, distance float64) error {
	if !p.isConnected() {
		p.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(AttendanceEvent{
		Session:    p.session.String(),
		Identity:   identity,
		SeenAt:     at.UTC(),
		Distance:   distance,
		Confidence: 1 - distance,
	})
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal attendance event: %w", err)
	}

	token := p.Client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if err := wait(ctx, token, publishTimeout); err != nil {
		p.countError()
		return fmt.Errorf("mqtt publish: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.logger.Debug("attendance published", "topic", p.cfg.Topic, "qos", p.cfg.QoS, "size", len(payload))
	return nil
}

// Disconnect closes the MQTT connection
func (p *MQTTPublisher) Disconnect() {
	if p.Client != nil && p.Client.IsConnected() {
		p.Client.Disconnect(250) // 250ms grace period
		p.logger.Info("mqtt disconnected")
	}
	p.setConnected(false)
}

// Counts returns how many events were published and how many failed.
func (p *MQTTPublisher) Counts() (published, failed uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.errors
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// wait blocks until token completes, timeout passes, or ctx is done.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
