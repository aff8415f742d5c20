package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// fakeRealtime accepts one socket, records client events and replays script.
type fakeRealtime struct {
	srv      *httptest.Server
	received chan map[string]any
	auth     chan string
	script   []string
	release  chan struct{}
}

func newFakeRealtime(t *testing.T, script ...string) *fakeRealtime {
	t.Helper()
	f := &fakeRealtime{
		received: make(chan map[string]any, 64),
		auth:     make(chan string, 1),
		script:   script,
		release:  make(chan struct{}),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRealtime) URL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRealtime) handle(w http.ResponseWriter, r *http.Request) {
	f.auth <- r.Header.Get("Authorization")
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := r.Context()
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				f.received <- m
			}
		}
	}()

	<-f.release
	for _, msg := range f.script {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

func (f *fakeRealtime) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-f.received:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client event")
	}
	return nil
}

func collect(t *testing.T, s voice.Session) []voice.Event {
	t.Helper()
	var evs []voice.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-timeout:
			t.Fatalf("timeout collecting events, got %v", evs)
		}
	}
}

func TestDialConfiguresAndStreams(t *testing.T) {
	f := newFakeRealtime(t,
		`{"type":"session.created","session":{"id":"sess_1"}}`,
		`{"type":"conversation.item.input_audio_transcription.delta","item_id":"i1","delta":"Hola"}`,
		`{"type":"conversation.item.input_audio_transcription.completed","item_id":"i1","transcript":"Hola"}`,
		`{"type":"conversation.item.input_audio_transcription.completed","item_id":"i2","transcript":"Adiós"}`,
		`{"type":"response.audio_transcript.delta","delta":"Buenas"}`,
		`{"type":"response.audio.delta","delta":"AQI="}`,
		`{"type":"input_audio_buffer.speech_started"}`,
		`{"type":"response.done","response":{"status":"completed"}}`,
		`{"type":"rate_limits.updated"}`,
	)

	p, err := New(Config{APIKey: "sk-test", BaseURL: f.URL()})
	if err != nil {
		t.Fatal(err)
	}
	sess, err := p.Dial(context.Background(), voice.LiveConfig{
		SystemInstruction:  "Sé breve.",
		Language:           "es-419",
		InputTranscription: true,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if got := <-f.auth; got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}

	update := f.next(t)
	if update["type"] != EventSessionUpdate {
		t.Fatalf("first event = %v", update["type"])
	}
	session := update["session"].(map[string]any)
	if session["voice"] != DefaultVoice || session["instructions"] != "Sé breve." {
		t.Errorf("session = %v", session)
	}
	if tr := session["input_audio_transcription"].(map[string]any); tr["language"] != "es" {
		t.Errorf("transcription = %v", tr)
	}

	if err := sess.Send(audio.NewChunk(make([]float32, 160))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	appended := f.next(t)
	if appended["type"] != EventInputAudioBufferAppend {
		t.Fatalf("event = %v", appended["type"])
	}
	pcm, err := audio.Decode(appended["audio"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(pcm) / 2; n != 240 {
		t.Errorf("resampled samples = %d, want 240", n)
	}

	close(f.release)
	evs := collect(t, sess)

	want := []string{"open", "user:Hola", "user:Adiós", "model:Buenas", "audio:2", "interrupted", "turn", "close"}
	var got []string
	for _, ev := range evs {
		switch e := ev.(type) {
		case voice.OpenEvent:
			got = append(got, "open")
		case voice.CloseEvent:
			got = append(got, "close")
		case voice.ErrorEvent:
			got = append(got, "error:"+e.Error())
		case voice.MessageEvent:
			switch {
			case e.InputTranscription != "":
				got = append(got, "user:"+e.InputTranscription)
			case e.OutputTranscription != "":
				got = append(got, "model:"+e.OutputTranscription)
			case len(e.Audio) > 0:
				got = append(got, "audio:"+string(rune('0'+len(e.Audio))))
			case e.Interrupted:
				got = append(got, "interrupted")
			case e.TurnComplete:
				got = append(got, "turn")
			}
		}
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v\nwant     %v", got, want)
	}
}

func TestServerErrorIsFatal(t *testing.T) {
	f := newFakeRealtime(t,
		`{"type":"error","error":{"type":"invalid_request_error","message":"ignored"}}`,
		`{"type":"error","error":{"type":"server_error","message":"boom"}}`,
	)
	p, err := New(Config{APIKey: "k", BaseURL: f.URL()})
	if err != nil {
		t.Fatal(err)
	}
	sess, err := p.Dial(context.Background(), voice.LiveConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	<-f.auth
	f.next(t)
	close(f.release)

	evs := collect(t, sess)
	if len(evs) == 0 {
		t.Fatal("no events")
	}
	ee, ok := evs[0].(voice.ErrorEvent)
	if !ok || !strings.Contains(ee.Error(), "boom") {
		t.Errorf("first event = %#v", evs[0])
	}
}

func TestSendAfterClose(t *testing.T) {
	f := newFakeRealtime(t)
	p, _ := New(Config{APIKey: "k", BaseURL: f.URL()})
	sess, err := p.Dial(context.Background(), voice.LiveConfig{})
	if err != nil {
		t.Fatal(err)
	}
	<-f.auth
	_ = sess.Close()
	close(f.release)

	if err := sess.Send(audio.NewChunk(make([]float32, 4))); !errors.Is(err, voice.ErrClosed) {
		t.Errorf("Send after close = %v, want ErrClosed", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestBaseLanguage(t *testing.T) {
	tests := map[string]string{"es-419": "es", "pt_BR": "pt", "en": "en", "": ""}
	for in, want := range tests {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
