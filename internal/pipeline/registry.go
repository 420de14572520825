package pipeline

import (
	"errors"
	"sync"

	"fraudscore/internal/features"
)

// Registry holds the bundle used for scoring. Bundles are immutable, so
// readers share them without copying and a Put swaps the whole bundle at once.
type Registry struct {
	mu     sync.RWMutex
	active *Artifacts
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Put validates a and makes it the active bundle.
func (r *Registry) Put(a *Artifacts) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == "" {
		return errors.New("artifact bundle has no ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = a
	return nil
}

// Active returns the bundle used for scoring.
func (r *Registry) Active() (*Artifacts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return nil, &features.NotFittedError{Component: "scoring pipeline"}
	}
	return r.active, nil
}
