// Package registry holds the in-process lookup of executable services.
//
// The scheduling engine consumes the registry as a capability set: it never
// constructs services, only resolves them by id and drives their lifecycle.
// The AI invocation behind Start/RunStandalone belongs to the service
// implementations and stays outside the control plane.
package registry

import (
	"context"
	"sort"
	"sync"
)

// Service is the lifecycle capability set every registered service exposes.
type Service interface {
	// Start runs one cycle of the service's work. It may take seconds to
	// minutes; the engine launches it detached and captures its error into
	// the service's own status, never the timer table.
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RunRecord summarizes one completed standalone invocation.
type RunRecord struct {
	TotalTokens int    `json:"total_tokens"`
	Output      string `json:"output,omitempty"`
}

// StandaloneRunner is the extended capability required for standalone task
// execution. Services that only run on their own schedule need not
// implement it; the task executor fails fast when it is missing.
type StandaloneRunner interface {
	RunStandalone(ctx context.Context, params map[string]string, model string, budgetKey string) (*RunRecord, error)
}

// Registry is a thread-safe id -> Service lookup.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds or replaces a service under the given id.
func (r *Registry) Register(id string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[id] = svc
}

// Has reports whether a service is registered under the id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[id]
	return ok
}

// Get returns the service for the id, or nil if absent.
func (r *Registry) Get(id string) Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[id]
}

// IDs returns all registered service ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
