package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/internal/types"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

type fakeControl struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeControl) Toggle() { f.record("toggle") }
func (f *fakeControl) Start() { f.record("start") }
func (f *fakeControl) Stop() { f.record("stop") }

func (f *fakeControl) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeControl) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	t       *testing.T
	conn    *Conn
	client  *websocket.Conn
	control *fakeControl
	readErr chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{t: t, control: &fakeControl{}, readErr: make(chan error, 1)}
	ready := make(chan *Conn, 1)

	cfg := DefaultConfig()
	cfg.MicTimeout = 2 * time.Second
	cfg.ICEServers = nil

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewUpgrader(nil, time.Second).Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewConn(ws, cfg)
		c.Bind(h.control)
		ctx := context.Background()
		go c.WriteLoop(ctx)
		go func() { h.readErr <- c.ReadLoop(ctx) }()
		ready <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	h.client = client
	h.conn = <-ready
	t.Cleanup(func() { h.conn.Close() })
	return h
}

func (h *harness) write(v any) {
	h.t.Helper()
	if err := h.client.WriteJSON(v); err != nil {
		h.t.Fatalf("client write: %v", err)
	}
}

func (h *harness) writeRaw(s string) {
	h.t.Helper()
	if err := h.client.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		h.t.Fatalf("client write: %v", err)
	}
}

// next reads messages until one of the wanted type arrives.
func (h *harness) next(typ string) map[string]any {
	h.t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := h.client.ReadMessage()
		if err != nil {
			h.t.Fatalf("waiting for %q: %v", typ, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			h.t.Fatalf("decode %s: %v", data, err)
		}
		if m["type"] == typ {
			return m
		}
	}
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControlMessages(t *testing.T) {
	h := newHarness(t)

	h.writeRaw(`{"type":"toggle"}`)
	h.writeRaw(`{"type":"start"}`)
	h.writeRaw(`{"type":"stop"}`)

	waitFor(t, "three control calls", func() bool { return len(h.control.Calls()) == 3 })
	got := h.control.Calls()
	want := []string{"toggle", "start", "stop"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMalformedMessageIsAnsweredAndIgnored(t *testing.T) {
	h := newHarness(t)

	h.writeRaw(`not json`)
	if m := h.next(TypeError); m["message"] == "" {
		t.Error("error message is empty")
	}

	h.writeRaw(`{"type":"toggle"}`)
	waitFor(t, "toggle after error", func() bool { return len(h.control.Calls()) == 1 })
}

func TestObserverMessages(t *testing.T) {
	h := newHarness(t)

	h.conn.StateChanged(voice.StateListening)
	m := h.next(TypeState)
	if m["state"] != "listening" || m["label"] != voice.StateListening.Label() {
		t.Errorf("state message = %v", m)
	}

	h.conn.TranscriptChanged([]types.TranscriptEntry{{ID: "a", Source: types.SourceUser, Text: "hola"}})
	m = h.next(TypeTranscript)
	entries, _ := m["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v", m["entries"])
	}
	if e := entries[0].(map[string]any); e["text"] != "hola" || e["source"] != "user" {
		t.Errorf("entry = %v", e)
	}

	h.conn.LatencyChanged(1200*time.Millisecond, true)
	m = h.next(TypeLatency)
	if m["ms"] != float64(1200) || m["running"] != true {
		t.Errorf("latency message = %v", m)
	}
}

func TestOpenInputGranted(t *testing.T) {
	h := newHarness(t)

	type result struct {
		in  audio.Input
		err error
	}
	done := make(chan result, 1)
	go func() {
		in, err := h.conn.OpenInput(context.Background())
		done <- result{in, err}
	}()

	h.next(TypeMicRequest)
	h.writeRaw(`{"type":"mic","granted":true}`)

	r := <-done
	if r.err != nil {
		t.Fatalf("OpenInput: %v", r.err)
	}

	var (
		mu  sync.Mutex
		got []float32
	)
	if err := r.in.Start(func(in, out []float32) {
		mu.Lock()
		got = append(got, in...)
		mu.Unlock()
		if len(out) != len(in) {
			t.Errorf("monitor len = %d, want %d", len(out), len(in))
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pcm := audio.FloatToPCM16([]float32{0.5, -0.5})
	h.write(map[string]any{"type": TypeAudio, "data": audio.Encode(pcm), "seq": 1})

	waitFor(t, "two samples", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	if got[0] != 0.5 || got[1] != -0.5 {
		t.Errorf("samples = %v", got)
	}
	mu.Unlock()

	if err := r.in.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	h.write(map[string]any{"type": TypeAudio, "data": audio.Encode(pcm), "seq": 2})
	h.writeRaw(`{"type":"toggle"}`)
	waitFor(t, "toggle", func() bool { return len(h.control.Calls()) == 1 })

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("samples after Stop = %d, want 2", len(got))
	}
}

func TestOpenInputDenied(t *testing.T) {
	h := newHarness(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.conn.OpenInput(context.Background())
		done <- err
	}()

	h.next(TypeMicRequest)
	h.writeRaw(`{"type":"mic","granted":false}`)

	if err := <-done; !errors.Is(err, voice.ErrMicDenied) {
		t.Fatalf("err = %v, want ErrMicDenied", err)
	}
}

func TestOpenInputCancelled(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.conn.OpenInput(ctx)
		done <- err
	}()

	h.next(TypeMicRequest)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestOutputPlayStopEnded(t *testing.T) {
	h := newHarness(t)

	out, err := h.conn.OpenOutput(audio.OutputSampleRate)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if m := h.next(TypeOutputOpen); m["rate"] != float64(audio.OutputSampleRate) {
		t.Errorf("output_open = %v", m)
	}

	ended := make(chan struct{}, 1)
	buf := &audio.Buffer{SampleRate: audio.OutputSampleRate, Data: [][]float32{{0.25, 0.25}}}
	src, err := out.Play(buf, 1500*time.Millisecond, func() { ended <- struct{}{} })
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	m := h.next(TypePlay)
	if m["at_ms"] != float64(1500) || m["rate"] != float64(audio.OutputSampleRate) {
		t.Errorf("play = %v", m)
	}
	data, _ := audio.Decode(m["data"].(string))
	if len(data) != 4 {
		t.Errorf("play data = %d bytes, want 4", len(data))
	}
	id := m["id"].(float64)

	src.Stop()
	if m := h.next(TypeStopSource); m["id"] != id {
		t.Errorf("stop id = %v, want %v", m["id"], id)
	}

	h.write(map[string]any{"type": TypeEnded, "id": id})
	h.write(map[string]any{"type": TypeEnded, "id": id})
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("ended callback did not fire")
	}
	select {
	case <-ended:
		t.Fatal("ended callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}

	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.next(TypeOutputClose)
	if _, err := out.Play(buf, 0, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Play after Close err = %v, want ErrClosed", err)
	}
}

func TestOutputClockAlignment(t *testing.T) {
	h := newHarness(t)

	out, err := h.conn.OpenOutput(audio.OutputSampleRate)
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if now := out.Now(); now > time.Second {
		t.Errorf("unaligned Now = %v", now)
	}

	h.writeRaw(`{"type":"clock","ms":5000}`)
	waitFor(t, "clock alignment", func() bool { return out.Now() >= 5*time.Second })
	if now := out.Now(); now > 6*time.Second {
		t.Errorf("aligned Now = %v", now)
	}
}

func TestClientCloseEndsReadLoop(t *testing.T) {
	h := newHarness(t)

	_ = h.client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	select {
	case err := <-h.readErr:
		if err != nil {
			t.Errorf("ReadLoop = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLoop did not return")
	}
	select {
	case <-h.conn.Done():
	default:
		t.Error("conn not closed")
	}
	if err := h.conn.enqueue(bareMessage{Type: TypeMicRequest}); !errors.Is(err, ErrClosed) {
		t.Errorf("enqueue after close = %v, want ErrClosed", err)
	}
}

func TestUpgraderOrigins(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"any", nil, "https://evil.example", true},
		{"wildcard", []string{"*"}, "https://a.example", true},
		{"listed", []string{"https://a.example"}, "https://a.example", true},
		{"unlisted", []string{"https://a.example"}, "https://b.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/voice", nil)
			r.Header.Set("Origin", tt.origin)
			if got := NewUpgrader(tt.allowed, 0).CheckOrigin(r); got != tt.want {
				t.Errorf("CheckOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}
