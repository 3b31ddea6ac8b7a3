// Package mqttsink republishes subscription bus events onto an MQTT topic,
// giving NEW/CHANGE/REMOVE events a second, externally observable consumer
// beyond in-process subscribers.
package mqttsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/audiocore/internal/audiocore/bus"
	"github.com/tphakala/audiocore/internal/logging"
)

// Config describes the MQTT broker connection and topic prefix events are
// published under (as "<prefix>/<kind>").
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Sink is a bus.Subscriber that republishes every delivered event as a
// JSON-encoded MQTT message.
type Sink struct {
	cfg    Config
	client paho.Client

	mu              sync.Mutex
	lastConnAttempt time.Time

	logger *slog.Logger
}

// New builds an unconnected Sink; call Connect before registering it with
// a bus.Bus via Subscribe.
func New(cfg Config) *Sink {
	if cfg.ClientID == "" {
		cfg.ClientID = "audiocore"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "audiocore/events"
	}
	logger := logging.ForService("audiocore-mqttsink")
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{cfg: cfg, logger: logger}
}

func (s *Sink) Name() string { return "mqttsink" }

// Connect dials the broker, resolving the client options then connecting,
// throttled to one attempt per minute.
func (s *Sink) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastConnAttempt) < time.Minute {
		return fmt.Errorf("connection attempt too recent")
	}
	s.lastConnAttempt = time.Now()

	if err := s.resolveBrokerHostname(); err != nil {
		return fmt.Errorf("failed to resolve broker hostname: %w", err)
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	return token.Error()
}

func (s *Sink) resolveBrokerHostname() error {
	u, err := url.Parse(s.cfg.Broker)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	if _, err := net.LookupHost(u.Hostname()); err != nil {
		return fmt.Errorf("failed to resolve hostname %s: %w", u.Hostname(), err)
	}
	return nil
}

// Disconnect closes the MQTT connection.
func (s *Sink) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// HandleEvent implements bus.Subscriber: each event is published to
// "<prefix>/<kind>" as JSON.
func (s *Sink) HandleEvent(ev bus.Event) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("mqttsink: not connected")
	}

	payload, err := json.Marshal(eventPayload{
		Kind:   ev.Kind.String(),
		Action: ev.Action.String(),
		Index:  ev.Index,
		Name:   ev.Name,
	})
	if err != nil {
		return err
	}

	topic := fmt.Sprintf("%s/%s", s.cfg.TopicPrefix, ev.Kind.String())
	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqttsink: publish timeout")
	}
	return token.Error()
}

type eventPayload struct {
	Kind   string `json:"kind"`
	Action string `json:"action"`
	Index  uint32 `json:"index"`
	Name   string `json:"name,omitempty"`
}
