package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joan6141318-ai/Moon-sub000/audio"
	"github.com/joan6141318-ai/Moon-sub000/config"
	"github.com/joan6141318-ai/Moon-sub000/internal/types"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// mockProvider implements realtime.Provider for testing.
type mockProvider struct {
	mu    sync.Mutex
	calls int
	pcm   []byte
}

func (m *mockProvider) Dial(context.Context, voice.LiveConfig) (voice.Session, error) {
	return nil, errors.New("dial not supported")
}

func (m *mockProvider) Synthesize(context.Context, voice.SpeechRequest) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.pcm, nil
}

// brokenDevice fails to open audio.
type brokenDevice struct{}

func (brokenDevice) OpenInput(context.Context) (audio.Input, error) {
	return nil, voice.ErrMicDenied
}

func (brokenDevice) OpenOutput(int) (audio.Output, error) {
	return nil, errors.New("no speaker")
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Cache.InMemory = true
	cfg.LangDetect.Enabled = false
	return cfg
}

func TestServiceCachesIntro(t *testing.T) {
	p := &mockProvider{pcm: []byte{1, 2, 3, 4}}
	svc, err := New(context.Background(), testConfig(), "test", WithProvider(p))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Shutdown()

	req := voice.SpeechRequest{Text: "hola", Voice: "Kore"}
	for range 3 {
		pcm, err := svc.Synthesizer().Synthesize(context.Background(), req)
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if len(pcm) != 4 {
			t.Fatalf("pcm = %v", pcm)
		}
	}

	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
	if hits := testutil.ToFloat64(svc.Metrics().CacheLookups.WithLabelValues("hit")); hits != 2 {
		t.Errorf("cache hits = %v, want 2", hits)
	}
}

func TestServiceWithoutCache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = false

	p := &mockProvider{pcm: []byte{1, 2}}
	svc, err := New(context.Background(), cfg, "test", WithProvider(p))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Shutdown()

	for range 2 {
		if _, err := svc.Synthesizer().Synthesize(context.Background(), voice.SpeechRequest{Text: "x"}); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2", p.calls)
	}
}

func TestServiceRequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.APIKey = ""

	if _, err := New(context.Background(), cfg, "test"); !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestProviderName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", config.ProviderGemini},
		{config.ProviderOpenAI, config.ProviderOpenAI},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			cfg := testConfig()
			cfg.Provider.Name = tt.name
			svc := &Service{cfg: cfg}
			if got := svc.ProviderName(); got != tt.want {
				t.Errorf("ProviderName = %q, want %q", got, tt.want)
			}
		})
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []voice.State
}

func (s *stateLog) StateChanged(st voice.State) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}
func (*stateLog) TranscriptChanged([]types.TranscriptEntry) {}
func (*stateLog) LatencyChanged(time.Duration, bool) {}

func (s *stateLog) Last() (voice.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return 0, false
	}
	return s.states[len(s.states)-1], true
}

func TestLiveAdapterLifecycle(t *testing.T) {
	svc, err := New(context.Background(), testConfig(), "test", WithProvider(&mockProvider{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Shutdown()

	var la LiveAdapter
	if st := la.Status(); st.State != "idle" {
		t.Errorf("idle status = %+v", st)
	}

	log := &stateLog{}
	ctrl := svc.NewController(brokenDevice{}, Observers{log, LogObserver{Session: "t"}})
	la.Start(context.Background(), ctrl)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, ok := log.Last(); ok && st == voice.StateError {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("controller did not reach error state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := la.Status(); st.State != "error" {
		t.Errorf("status = %+v", st)
	}
	if got := testutil.ToFloat64(svc.Metrics().Errors.WithLabelValues("output")); got != 1 {
		t.Errorf("output errors = %v, want 1", got)
	}

	if err := la.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := la.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if la.Transcript() != nil {
		t.Error("transcript after Stop should be nil")
	}
}
