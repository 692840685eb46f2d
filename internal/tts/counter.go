// Package tts implements the long-form text-to-speech orchestrator: sentence
// splitting, round-robin fan-out across backend workers, durable per-job
// state and resumable SSE emission.
package tts

import (
	"strconv"

	"github.com/airelay/gemini-relay/internal/db"
)

const (
	counterScope = "router-counter"
	counterName  = "global-router-counter"
)

// Counter is the process-safe monotonic counter used as the round-robin
// cursor for worker selection. It is shared across all TTS jobs and
// serialized by the store's scope lock, so no two callers observe the same
// value.
type Counter struct {
	store *db.Store
}

func NewCounter(store *db.Store) *Counter {
	return &Counter{store: store}
}

// Increment atomically advances the counter and returns the new value.
func (c *Counter) Increment() (int64, error) {
	var out int64
	err := c.store.WithScope(counterScope, func() error {
		n, err := c.read()
		if err != nil {
			return err
		}
		n++
		if err := c.store.Put(counterScope, counterName, strconv.FormatInt(n, 10)); err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// Get returns the current counter value without advancing it.
func (c *Counter) Get() (int64, error) {
	var out int64
	err := c.store.WithScope(counterScope, func() error {
		n, err := c.read()
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

func (c *Counter) read() (int64, error) {
	raw, ok, err := c.store.Get(counterScope, counterName)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// A corrupt record restarts the sequence rather than wedging
		// every TTS request.
		return 0, nil
	}
	return n, nil
}
