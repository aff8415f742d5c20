package server

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/joan6141318-ai/Moon-sub000/bridge"
	"github.com/joan6141318-ai/Moon-sub000/internal/types"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// tracked is one live widget connection and its controller.
type tracked struct {
	id      string
	conn    *bridge.Conn
	ctrl    *voice.Controller
	started time.Time
}

// Tracker keeps the set of live sessions so status can list them and
// shutdown can close and wait for them.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*tracked
	wg       sync.WaitGroup
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*tracked)}
}

// add registers a session. The caller must call remove when it ends.
func (t *Tracker) add(s *tracked) {
	t.mu.Lock()
	t.sessions[s.id] = s
	t.wg.Add(1)
	t.mu.Unlock()
}

func (t *Tracker) remove(id string) {
	t.mu.Lock()
	if _, ok := t.sessions[id]; ok {
		delete(t.sessions, id)
		t.wg.Done()
	}
	t.mu.Unlock()
}

// Len returns the number of live sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Statuses returns a snapshot of every session, oldest first.
func (t *Tracker) Statuses(provider string) []types.VoiceStatus {
	t.mu.RLock()
	list := make([]*tracked, 0, len(t.sessions))
	for _, s := range t.sessions {
		list = append(list, s)
	}
	t.mu.RUnlock()

	slices.SortFunc(list, func(a, b *tracked) int {
		if c := a.started.Compare(b.started); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})

	out := make([]types.VoiceStatus, 0, len(list))
	for _, s := range list {
		st := s.ctrl.Status()
		st.Provider = provider
		out = append(out, st)
	}
	return out
}

// CloseAll closes every connection.
func (t *Tracker) CloseAll() {
	t.mu.RLock()
	conns := make([]*bridge.Conn, 0, len(t.sessions))
	for _, s := range t.sessions {
		conns = append(conns, s.conn)
	}
	t.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Wait blocks until every session has been removed or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
