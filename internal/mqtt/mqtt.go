// Package mqtt mirrors the relay onto an MQTT broker. It defines the
// Publisher interface and includes both a StubPublisher (no-op) and a
// Mirror that publishes every change event, retains the latest state of
// each device and accepts line-protocol commands on a command topic.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
)

// ---------------------------------------------------------------------------
// Publisher interface
// ---------------------------------------------------------------------------

// Publisher sends relay traffic to an MQTT broker.
type Publisher interface {
	// Start connects to the broker.
	Start(ctx context.Context) error
	// Stop shuts down the publisher.
	Stop(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// StubPublisher (no-op, used when MQTT is disabled)
// ---------------------------------------------------------------------------

// StubPublisher is a no-op publisher for when MQTT is not configured.
type StubPublisher struct {
	log *slog.Logger
}

// NewStubPublisher creates a no-op MQTT publisher.
func NewStubPublisher(log *slog.Logger) *StubPublisher {
	return &StubPublisher{log: log}
}

// Start is a no-op.
func (s *StubPublisher) Start(_ context.Context) error {
	s.log.Info("mqtt mirror disabled")
	return nil
}

// Stop is a no-op.
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

var _ Publisher = (*StubPublisher)(nil)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds MQTT mirror configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Commander executes one protocol line and returns the reply lines. The
// relay's connection handler satisfies it.
type Commander interface {
	Execute(ctx context.Context, line string) (replies []string, done bool)
}

// Replayer provides the current device state, published on every
// (re)connect so retained topics are fresh.
type Replayer interface {
	Replay() []state.ChangeEvent
}

// ---------------------------------------------------------------------------
// Mirror
// ---------------------------------------------------------------------------

var _ Publisher = (*Mirror)(nil)

const publishTimeout = 2 * time.Second

// Mirror publishes queued change events to the broker and relays commands
// received on <prefix>/command back through the line protocol. It is a
// dispatcher sink.
type Mirror struct {
	cfg   Config
	cmd   Commander
	store Replayer
	log   *slog.Logger

	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu       sync.Mutex
	client   pahomqtt.Client
	stopping bool
	// wg tracks in-flight commands. Add is only called under mu while
	// stopping is false.
	wg sync.WaitGroup
}

// NewMirror creates an MQTT mirror.
func NewMirror(cfg Config, cmd Commander, store Replayer, log *slog.Logger) *Mirror {
	return &Mirror{
		cfg:       cfg,
		cmd:       cmd,
		store:     store,
		log:       log,
		newClient: pahomqtt.NewClient,
	}
}

// ID names the mirror in dispatcher logs.
func (m *Mirror) ID() string { return "mqtt" }

// Start connects to the broker. The connection is retried in the
// background; on every (re)connect the mirror publishes its availability,
// the full device state and subscribes to the command topic.
func (m *Mirror) Start(_ context.Context) error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetUsername(m.cfg.Username).
		SetPassword(m.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(m.topic("status"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			m.log.Info("mqtt connected, publishing state")
			m.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			m.log.Warn("mqtt connection lost", "error", err)
		})

	client := m.newClient(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		m.log.Warn("mqtt broker not reachable yet, retrying in background", "broker", m.cfg.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}
	m.log.Info("mqtt mirror started", "broker", m.cfg.Broker)
	return nil
}

// Stop refuses new commands, waits for in-flight ones, then publishes
// offline availability and disconnects.
func (m *Mirror) Stop(_ context.Context) error {
	m.mu.Lock()
	m.stopping = true
	client := m.client
	m.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Unsubscribe(m.topic("command")).WaitTimeout(publishTimeout)
	}
	m.wg.Wait()
	if client != nil && client.IsConnected() {
		m.publish(m.topic("status"), "offline", true)
		client.Disconnect(1000)
	}
	m.log.Info("mqtt mirror stopped")
	return nil
}

func (m *Mirror) onConnect() {
	m.publish(m.topic("status"), "online", true)

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	token := client.Subscribe(m.topic("command"), 1, m.handleCommand)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		m.log.Error("failed to subscribe to command topic", "topic", m.topic("command"), "error", token.Error())
	}

	for _, evt := range m.store.Replay() {
		m.publishState(evt)
	}
}

// Deliver publishes a queued data message: the raw event on
// <prefix>/events and, for change events, the device's info retained on
// <prefix>/<category>/<id>. It does not wait for the broker, so a slow
// broker never holds up the dispatcher.
func (m *Mirror) Deliver(msg queue.Message) error {
	if msg.Event != nil {
		m.publishState(*msg.Event)
	}
	m.publishAsync(m.topic("events"), strings.TrimPrefix(msg.Line, "#"), false)
	return nil
}

func (m *Mirror) publishState(evt state.ChangeEvent) {
	data, err := json.Marshal(evt.Info)
	if err != nil {
		m.log.Error("failed to marshal device state", "category", evt.Category, "id", evt.ID, "error", err)
		return
	}
	m.publishAsync(m.topic(fmt.Sprintf("%s/%s", evt.Category, evt.ID)), string(data), true)
}

func (m *Mirror) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	line := strings.TrimSpace(string(msg.Payload()))

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		m.log.Debug("mqtt command ignored during shutdown", "line", line)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	m.log.Info("mqtt command", "line", line)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	replies, _ := m.cmd.Execute(ctx, line)
	for _, reply := range replies {
		m.publish(m.topic("reply"), reply, false)
	}
}

// topic builds a full topic path: {prefix}/{suffix}.
func (m *Mirror) topic(suffix string) string {
	return fmt.Sprintf("%s/%s", m.cfg.TopicPrefix, suffix)
}

// send hands a message to the client. It returns nil while disconnected.
func (m *Mirror) send(topic, payload string, retained bool) pahomqtt.Token {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return nil
	}
	return client.Publish(topic, 1, retained, payload)
}

// publishAsync sends a message and reports its outcome in the background.
func (m *Mirror) publishAsync(topic, payload string, retained bool) {
	token := m.send(topic, payload, retained)
	if token == nil {
		return
	}
	go func() {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				m.log.Error("mqtt publish failed", "topic", topic, "error", err)
			}
		case <-time.After(publishTimeout):
			m.log.Warn("mqtt publish not acknowledged", "topic", topic, "timeout", publishTimeout)
		}
	}()
}

// publish sends a message and waits briefly for the broker to accept it.
// Nothing is sent while disconnected.
func (m *Mirror) publish(topic, payload string, retained bool) error {
	token := m.send(topic, payload, retained)
	if token == nil {
		return nil
	}
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		m.log.Error("mqtt publish failed", "topic", topic, "error", err)
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}
