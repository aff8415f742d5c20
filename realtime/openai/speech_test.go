package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3/option"

	"github.com/joan6141318-ai/Moon-sub000/voice"
)

func TestSynthesize(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 0, 2, 0})
	}))
	defer srv.Close()

	p := &Provider{
		cfg:    Config{Voice: "coral"},
		speech: newSpeechClient("k", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0)),
	}
	pcm, err := p.Synthesize(context.Background(), voice.SpeechRequest{Text: "Hola"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != 4 {
		t.Errorf("pcm = %v", pcm)
	}
	if body["voice"] != "coral" || body["response_format"] != "pcm" || body["input"] != "Hola" {
		t.Errorf("request = %v", body)
	}
	if body["model"] != "gpt-4o-mini-tts" {
		t.Errorf("model = %v", body["model"])
	}
}

func TestSynthesizeEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &Provider{
		cfg:    Config{Voice: "alloy"},
		speech: newSpeechClient("k", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0)),
	}
	if _, err := p.Synthesize(context.Background(), voice.SpeechRequest{Text: "Hola"}); !errors.Is(err, voice.ErrNoAudio) {
		t.Errorf("Synthesize = %v, want ErrNoAudio", err)
	}
}
