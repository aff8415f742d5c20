package app

import (
	"context"
	"errors"
	"sync"

	"github.com/joan6141318-ai/Moon-sub000/internal/types"
	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// LiveAdapter runs one controller loop at a time with proper
// synchronization.
type LiveAdapter struct {
	mu     sync.RWMutex
	ctrl   *voice.Controller
	cancel context.CancelFunc
	done   chan error
}

// Start runs ctrl and begins a session. Stops any existing controller first.
func (la *LiveAdapter) Start(ctx context.Context, ctrl *voice.Controller) {
	_ = la.Stop()

	la.mu.Lock()
	defer la.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		err := ctrl.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		done <- err
	}()
	ctrl.Start()

	la.ctrl = ctrl
	la.cancel = cancel
	la.done = done
}

// Stop tears down the running session and waits for the controller loop.
func (la *LiveAdapter) Stop() error {
	la.mu.Lock()
	defer la.mu.Unlock()

	if la.cancel == nil {
		return nil
	}
	la.cancel()
	err := <-la.done

	la.ctrl = nil
	la.cancel = nil
	la.done = nil
	return err
}

// Status returns the current status, safe for concurrent access.
func (la *LiveAdapter) Status() types.VoiceStatus {
	la.mu.RLock()
	defer la.mu.RUnlock()

	if la.ctrl == nil {
		return types.VoiceStatus{State: voice.StateIdle.String(), Label: voice.StateIdle.Label()}
	}
	return la.ctrl.Status()
}

// Transcript returns the running session's conversation log.
func (la *LiveAdapter) Transcript() []types.TranscriptEntry {
	la.mu.RLock()
	defer la.mu.RUnlock()

	if la.ctrl == nil {
		return nil
	}
	return la.ctrl.Transcript()
}
