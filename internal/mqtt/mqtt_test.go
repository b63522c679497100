package mqtt

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

// pendingToken is never acknowledged until release is closed.
type pendingToken struct{ release chan struct{} }

func (p pendingToken) Wait() bool { <-p.release; return true }
func (p pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-p.release:
		return true
	case <-time.After(d):
		return false
	}
}
func (p pendingToken) Done() <-chan struct{} { return p.release }
func (p pendingToken) Error() error          { return nil }

type published struct {
	topic    string
	payload  string
	retained bool
}

// fakeClient is an in-memory broker connection.
type fakeClient struct {
	opts *pahomqtt.ClientOptions

	mu           sync.Mutex
	connected    bool
	messages     []published
	handlers     map[string]pahomqtt.MessageHandler
	publishToken pahomqtt.Token
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: payload.(string), retained: retained})
	if c.publishToken != nil {
		return c.publishToken
	}
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = map[string]pahomqtt.MessageHandler{}
	}
	c.handlers[topic] = cb
	return doneToken{}
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	return doneToken{}
}

func (c *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (c *fakeClient) find(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].topic == topic {
			return c.messages[i], true
		}
	}
	return published{}, false
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type echoCommander struct{}

type countingCommander struct{ calls atomic.Int32 }

func (c *countingCommander) Execute(_ context.Context, line string) ([]string, bool) {
	c.calls.Add(1)
	return []string{"reply:" + line}, false
}

func (echoCommander) Execute(_ context.Context, line string) ([]string, bool) {
	return []string{"reply:" + line}, false
}

type fixedReplay []state.ChangeEvent

func (r fixedReplay) Replay() []state.ChangeEvent { return r }

func startMirror(t *testing.T, replay fixedReplay) (*Mirror, *fakeClient) {
	t.Helper()
	m := NewMirror(Config{Broker: "tcp://broker:1883", TopicPrefix: "huerelay", ClientID: "test"}, echoCommander{}, replay, testLogger())
	fc := &fakeClient{}
	m.newClient = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		fc.opts = opts
		return fc
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m, fc
}

func TestMirrorPublishesStateOnConnect(t *testing.T) {
	replay := fixedReplay{
		{Category: state.CategoryLight, ID: "1", Info: map[string]any{"state": map[string]any{"on": true}}},
	}
	_, fc := startMirror(t, replay)

	if msg, ok := fc.find("huerelay/status"); !ok || msg.payload != "online" || !msg.retained {
		t.Errorf("status = %+v, %v", msg, ok)
	}
	msg, ok := fc.find("huerelay/light/1")
	if !ok || msg.payload != `{"state":{"on":true}}` || !msg.retained {
		t.Errorf("light/1 = %+v, %v", msg, ok)
	}
}

func TestMirrorDeliver(t *testing.T) {
	m, fc := startMirror(t, nil)

	evt := state.ChangeEvent{Category: state.CategoryGroup, ID: "3", Info: map[string]any{"action": map[string]any{"on": false}}}
	msg, err := queue.Notify(evt)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Deliver(msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if got, ok := fc.find("huerelay/group/3"); !ok || got.payload != `{"action":{"on":false}}` {
		t.Errorf("group/3 = %+v", got)
	}
	got, ok := fc.find("huerelay/events")
	if !ok || got.payload != `{"group":{"id":"3","info":{"action":{"on":false}}}}` || got.retained {
		t.Errorf("events = %+v", got)
	}
}

func TestMirrorCommand(t *testing.T) {
	_, fc := startMirror(t, nil)

	fc.mu.Lock()
	handler := fc.handlers["huerelay/command"]
	fc.mu.Unlock()
	if handler == nil {
		t.Fatal("command topic not subscribed")
	}
	handler(fc, fakeMessage{topic: "huerelay/command", payload: []byte("lights\n")})

	if got, ok := fc.find("huerelay/reply"); !ok || got.payload != "reply:lights" {
		t.Errorf("reply = %+v, %v", got, ok)
	}
}

func TestMirrorStopPublishesOffline(t *testing.T) {
	m, fc := startMirror(t, nil)
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got, _ := fc.find("huerelay/status"); got.payload != "offline" {
		t.Errorf("status = %q after stop", got.payload)
	}
	if fc.IsConnected() {
		t.Error("client still connected")
	}
}

func TestMirrorDeliverWhileDisconnected(t *testing.T) {
	m := NewMirror(Config{TopicPrefix: "huerelay"}, echoCommander{}, fixedReplay(nil), testLogger())
	if err := m.Deliver(queue.Data("#x")); err != nil {
		t.Errorf("Deliver = %v, want nil while disconnected", err)
	}
}

func TestMirrorDeliverDoesNotWaitForBroker(t *testing.T) {
	m, fc := startMirror(t, nil)
	release := make(chan struct{})
	defer close(release)
	fc.mu.Lock()
	fc.publishToken = pendingToken{release: release}
	fc.mu.Unlock()

	evt := state.ChangeEvent{Category: state.CategoryLight, ID: "1", Info: map[string]any{"state": map[string]any{"on": true}}}
	msg, err := queue.Notify(evt)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Deliver(msg) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Deliver = %v", err)
		}
	case <-time.After(publishTimeout / 2):
		t.Fatal("Deliver blocked on an unacknowledged publish")
	}
	if _, ok := fc.find("huerelay/events"); !ok {
		t.Error("event not handed to the client")
	}
}

func TestMirrorIgnoresCommandsAfterStop(t *testing.T) {
	cmd := &countingCommander{}
	m := NewMirror(Config{Broker: "tcp://broker:1883", TopicPrefix: "huerelay", ClientID: "test"}, cmd, fixedReplay(nil), testLogger())
	fc := &fakeClient{}
	m.newClient = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		fc.opts = opts
		return fc
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fc.mu.Lock()
	handler := fc.handlers["huerelay/command"]
	fc.mu.Unlock()
	if handler == nil {
		t.Fatal("command topic not subscribed")
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	fc.mu.Lock()
	_, still := fc.handlers["huerelay/command"]
	fc.mu.Unlock()
	if still {
		t.Error("command topic still subscribed after stop")
	}

	// A message already in flight on the client's goroutine.
	handler(fc, fakeMessage{topic: "huerelay/command", payload: []byte("lights")})
	if n := cmd.calls.Load(); n != 0 {
		t.Errorf("commands executed after stop = %d, want 0", n)
	}
	if _, ok := fc.find("huerelay/reply"); ok {
		t.Error("reply published after stop")
	}
}
