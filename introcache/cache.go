// Package introcache stores rendered intro speech so repeated sessions skip
// the synthesis round trip.
package introcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/joan6141318-ai/Moon-sub000/voice"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("introcache: closed")

const keyPrefix = "intro/"

// Options configures the cache store.
type Options struct {
	Dir      string
	InMemory bool
	TTL      time.Duration // 0 keeps entries forever
}

// Cache is a badger-backed key/value store for PCM payloads.
type Cache struct {
	db  *badger.DB
	ttl time.Duration

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the store.
func Open(opts Options) (*Cache, error) {
	bo := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	}
	bo = bo.WithLogger(slogLogger{})

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Cache{db: db, ttl: opts.TTL}, nil
}

// Get returns the payload for key.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false, ErrClosed
	}

	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

// Put stores val under key with the configured TTL.
func (c *Cache) Put(key string, val []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Close flushes and closes the store. It is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// Key derives the cache key for a synthesis request.
func Key(model string, req voice.SpeechRequest) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(req.Voice))
	h.Write([]byte{0})
	h.Write([]byte(req.Text))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// ─────────────────────────────────────────────────────────────────────────────
// Synthesizer decorator
// ─────────────────────────────────────────────────────────────────────────────

// LookupRecorder observes cache hits and misses.
type LookupRecorder interface {
	CacheLookup(hit bool)
}

// Synthesizer serves repeated requests from the cache.
type Synthesizer struct {
	next     voice.Synthesizer
	cache    *Cache
	model    string
	recorder LookupRecorder
}

// Wrap decorates next. model partitions entries per synthesis model.
func Wrap(next voice.Synthesizer, cache *Cache, model string, recorder LookupRecorder) *Synthesizer {
	return &Synthesizer{next: next, cache: cache, model: model, recorder: recorder}
}

// Synthesize implements voice.Synthesizer. Cache failures fall through to the
// wrapped synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req voice.SpeechRequest) ([]byte, error) {
	key := Key(s.model, req)

	pcm, ok, err := s.cache.Get(key)
	if err != nil {
		slog.Warn("intro cache read failed", "error", err)
	}
	s.record(ok)
	if ok {
		slog.Debug("intro cache hit", "bytes", len(pcm))
		return pcm, nil
	}

	pcm, err = s.next.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(pcm) > 0 {
		if err := s.cache.Put(key, pcm); err != nil {
			slog.Warn("intro cache write failed", "error", err)
		}
	}
	return pcm, nil
}

func (s *Synthesizer) record(hit bool) {
	if s.recorder != nil {
		s.recorder.CacheLookup(hit)
	}
}

// slogLogger routes badger logs to slog.
type slogLogger struct{}

func (slogLogger) Errorf(f string, args ...any) { slog.Error("badger: " + fmt.Sprintf(f, args...)) }
func (slogLogger) Warningf(f string, args ...any) { slog.Warn("badger: " + fmt.Sprintf(f, args...)) }
func (slogLogger) Infof(f string, args ...any) { slog.Debug("badger: " + fmt.Sprintf(f, args...)) }
func (slogLogger) Debugf(f string, args ...any) { slog.Debug("badger: " + fmt.Sprintf(f, args...)) }
