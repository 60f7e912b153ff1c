package core

import (
	"context"
	"sync"
)

var (
	regMu    sync.RWMutex
	builders = map[string]Builder{}
)

// RegisterBuilder binds a device type to its builder. Call from package init.
func RegisterBuilder(typ string, b Builder) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := builders[typ]; exists {
		panic("duplicate device builder: " + typ)
	}
	builders[typ] = b
}

func lookupBuilder(typ string) (Builder, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	b, ok := builders[typ]
	return b, ok
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, in BuilderInput) (Device, error)

func (f BuilderFunc) Build(ctx context.Context, in BuilderInput) (Device, error) { return f(ctx, in) }
