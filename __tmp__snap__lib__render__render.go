// Package render defines the challenge renderer contract and its registry.
//
// A renderer owns the bytes of the puzzle artifact; the engine owns its
// lifecycle and requests deletion whenever a challenge is retired.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrBadConfig is returned when a renderer factory's configuration is invalid.
	ErrBadConfig = errors.New("render: configuration is invalid")
)

// Renderer produces and destroys puzzle artifacts.
type Renderer interface {
	// Generate mints a fresh secret of secretLength characters and renders it,
	// returning the secret and a handle to the rendered artifact.
	Generate(ctx context.Context, secretLength int) (secret, artifactHandle string, err error)

	// DeleteArtifact removes the artifact behind a handle. Deleting an
	// already-deleted artifact is success; callers treat failures as
	// log-and-continue.
	DeleteArtifact(ctx context.Context, artifactHandle string) error
}

// Factory builds instances of a renderer from its JSON configuration.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Renderer, error)
	Valid(config json.RawMessage) error
}

var (
	registry map[string]Factory = map[string]Factory{}
	regLock  sync.RWMutex
)

func Register(name string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

// Methods lists every registered renderer name in sorted order.
func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, method)
	}
	sort.Strings(result)
	return result
}


