// Package memory is the zero-configuration challenge store: a decaying map
// living in the daemon's own process. Challenge records do not survive a
// restart, which is acceptable for single-instance deployments because a
// principal whose record vanished simply restarts the flow.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uvensys/gatekeeper/decaymap"
	"github.com/uvensys/gatekeeper/lib/store"
)

// cleanupInterval paces the sweep of decayed records. Expired entries are
// already invisible to Get before the sweep; this only bounds memory.
const cleanupInterval = 5 * time.Minute

type factory struct{}

func (factory) Build(ctx context.Context, _ json.RawMessage) (store.Interface, error) {
	return New(ctx), nil
}

func (factory) Valid(json.RawMessage) error { return nil }

func init() {
	store.Register("memory", factory{})
}

type impl struct {
	store *decaymap.Impl[string, []byte]
}

func (i *impl) Delete(_ context.Context, key string) error {
	// An entry that already decayed counts as absent: callers racing expiry
	// rely on the not-found signal to tell who retired the record.
	if !i.store.Delete(key) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (i *impl) Get(_ context.Context, key string) ([]byte, error) {
	result, ok := i.store.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return result, nil
}

func (i *impl) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	i.store.Set(key, value, expiry)
	return nil
}

func (i *impl) cleanupThread(ctx context.Context) {
	t := time.NewTicker(cleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			i.store.Cleanup()
		}
	}
}

// New creates an in-memory store whose cleanup goroutine lives until ctx is
// cancelled. This will not scale to multiple gatekeeper instances; use the
// valkey backend for that.
func New(ctx context.Context) store.Interface {
	result := &impl{
		store: decaymap.New[string, []byte](),
	}

	go result.cleanupThread(ctx)

	return result
}
