package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/tarm/serial"
)

type fakeSink struct {
	name   string
	frames []Frame
	err    error
	closed bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(fr Frame) error {
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_Decimates(t *testing.T) {
	s := &fakeSink{name: "a"}
	p := NewPublisher(10, nil, s)
	for i := 0; i < 35; i++ {
		p.Publish(Frame{Tick: uint64(i)})
	}
	if len(s.frames) != 4 {
		t.Fatalf("sent=%d want 4", len(s.frames))
	}
	for i, fr := range s.frames {
		if fr.Tick != uint64(i*10) {
			t.Fatalf("frame %d tick=%d want %d", i, fr.Tick, i*10)
		}
	}
	if st := p.Stats(); st[0].Sent != 4 || st[0].Errors != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestPublisher_SinkErrorIsIsolated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	bad := &fakeSink{name: "bad", err: errors.New("port gone")}
	good := &fakeSink{name: "good"}
	p := NewPublisher(1, logger, bad, good)

	for i := 0; i < 250; i++ {
		p.Publish(Frame{Tick: uint64(i)})
	}
	if len(good.frames) != 250 {
		t.Fatalf("good sink got %d frames want 250", len(good.frames))
	}
	st := p.Stats()
	if st[0].Errors != 250 || st[0].Sent != 0 || st[1].Sent != 250 {
		t.Fatalf("stats=%+v", st)
	}

	// Logged on the first failure and every 100th after.
	var warns int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warns++
			if e.Data["sink"] != "bad" {
				t.Fatalf("entry sink=%v want bad", e.Data["sink"])
			}
		}
	}
	if warns != 3 {
		t.Fatalf("warnings=%d want 3", warns)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bad.closed || !good.closed {
		t.Fatalf("sinks not closed")
	}
}

func TestPublisher_NilIsNoop(t *testing.T) {
	var p *Publisher
	p.Publish(Frame{})
	if p.Stats() != nil || p.Close() != nil {
		t.Fatalf("nil publisher should be inert")
	}
}

func TestFrame_MarshalLine(t *testing.T) {
	b, err := Frame{Tick: 3, ThetaZ: 0.5, Strategy: "kalman"}.MarshalLine()
	if err != nil {
		t.Fatalf("MarshalLine: %v", err)
	}
	if !bytes.HasSuffix(b, []byte("\n")) || bytes.Count(b, []byte("\n")) != 1 {
		t.Fatalf("line=%q want a single trailing newline", b)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m["theta_z"] != 0.5 || m["strategy"] != "kalman" || m["tick"] != 3.0 {
		t.Fatalf("decoded=%v", m)
	}
}

type bufPort struct {
	bytes.Buffer
	closed bool
}

func (b *bufPort) Close() error {
	b.closed = true
	return nil
}

func TestSerialSink_WritesLines(t *testing.T) {
	port := &bufPort{}
	var gotCfg serial.Config
	old := openPortFn
	openPortFn = func(c *serial.Config) (io.WriteCloser, error) {
		gotCfg = *c
		return port, nil
	}
	t.Cleanup(func() { openPortFn = old })

	s, err := OpenSerial("/dev/ttyUSB0", 0)
	if err != nil {
		t.Fatalf("OpenSerial: %v", err)
	}
	if gotCfg.Name != "/dev/ttyUSB0" || gotCfg.Baud != DefaultBaud {
		t.Fatalf("config=%+v", gotCfg)
	}
	if err := s.Send(Frame{Tick: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send(Frame{Tick: 2}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(port.String(), "\n"), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], `"tick":2`) {
		t.Fatalf("lines=%q", lines)
	}
	if err := s.Close(); err != nil || !port.closed {
		t.Fatalf("Close err=%v closed=%v", err, port.closed)
	}
}

func TestSerialSink_OpenErrors(t *testing.T) {
	old := openPortFn
	openPortFn = func(c *serial.Config) (io.WriteCloser, error) { return nil, errors.New("no such device") }
	t.Cleanup(func() { openPortFn = old })

	if _, err := OpenSerial("", 9600); err == nil {
		t.Fatalf("expected error for empty port")
	}
	if _, err := OpenSerial("/dev/ttyS9", 9600); err == nil || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("err=%v", err)
	}
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu         sync.Mutex
	connectErr error
	pubTokens  []*fakeToken
	published  []publishCall
	disconnect bool
}

func (f *fakeMQTT) Connect() mqtt.Token { return doneToken(f.connectErr) }

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishCall{topic, qos, retained, payload.([]byte)})
	if len(f.pubTokens) == 0 {
		return doneToken(nil)
	}
	tok := f.pubTokens[0]
	f.pubTokens = f.pubTokens[1:]
	return tok
}

func (f *fakeMQTT) Disconnect(quiesce uint) { f.disconnect = true }

func stubMQTT(t *testing.T, client *fakeMQTT) {
	t.Helper()
	old := newMQTTClientFn
	newMQTTClientFn = func(opts *mqtt.ClientOptions) mqttClient {
		if len(opts.Servers) != 1 {
			t.Errorf("servers=%v want one broker", opts.Servers)
		}
		return client
	}
	t.Cleanup(func() { newMQTTClientFn = old })
}

func TestMQTTSink_PublishesQoS0(t *testing.T) {
	client := &fakeMQTT{}
	stubMQTT(t, client)

	s, err := DialMQTT(MQTTConfig{Broker: "tcp://localhost:1883", Topic: "crawl/state"})
	if err != nil {
		t.Fatalf("DialMQTT: %v", err)
	}
	if err := s.Send(Frame{Tick: 9, ThetaZ: 0.25}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(client.published) != 1 {
		t.Fatalf("published=%d want 1", len(client.published))
	}
	pc := client.published[0]
	if pc.topic != "crawl/state" || pc.qos != 0 || pc.retained {
		t.Fatalf("publish=%+v", pc)
	}
	var fr Frame
	if err := json.Unmarshal(pc.payload, &fr); err != nil || fr.Tick != 9 || fr.ThetaZ != 0.25 {
		t.Fatalf("payload=%s err=%v", pc.payload, err)
	}

	if err := s.Close(); err != nil || !client.disconnect {
		t.Fatalf("Close err=%v disconnect=%v", err, client.disconnect)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestMQTTSink_ErrorSurfacesOnNextSend(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	client := &fakeMQTT{pubTokens: []*fakeToken{doneToken(errors.New("not connected")), pending}}
	stubMQTT(t, client)

	s, err := DialMQTT(MQTTConfig{Broker: "tcp://localhost:1883", Topic: "t"})
	if err != nil {
		t.Fatalf("DialMQTT: %v", err)
	}
	if err := s.Send(Frame{}); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := s.Send(Frame{}); err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("second Send err=%v want previous publish error", err)
	}
	// The pending token has not completed: no error and no wait.
	if err := s.Send(Frame{}); err != nil {
		t.Fatalf("third Send: %v", err)
	}
	if len(client.published) != 3 {
		t.Fatalf("published=%d want 3", len(client.published))
	}
}

func TestDialMQTT_Errors(t *testing.T) {
	if _, err := DialMQTT(MQTTConfig{Broker: "tcp://x:1883"}); err == nil {
		t.Fatalf("expected error without topic")
	}

	stubMQTT(t, &fakeMQTT{connectErr: errors.New("refused")})
	if _, err := DialMQTT(MQTTConfig{Broker: "tcp://x:1883", Topic: "t"}); err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("err=%v want refused", err)
	}
}
