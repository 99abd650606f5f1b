// Package executor runs the mutation of a Batch sub-batch by sub-batch through the handler
// registered for the Operation's job type.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// HandlerGroup is the Fx value group collecting NamedHandler values.
const HandlerGroup = "job_handlers"

// Handler applies a job to one sub-range of keys.
type Handler interface {
	Handle(ctx context.Context, exec adapter.DBExecutor, op *model.Operation, sub model.CursorRange) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, exec adapter.DBExecutor, op *model.Operation, sub model.CursorRange) error

func (f HandlerFunc) Handle(ctx context.Context, exec adapter.DBExecutor, op *model.Operation, sub model.CursorRange) error {
	return f(ctx, exec, op, sub)
}

// NamedHandler registers a Handler under a job type.
type NamedHandler struct {
	JobType string
	Handler Handler
}

// HandlerRegistry resolves job_type to a Handler.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// HandlerRegistryParams are the Fx dependencies of NewHandlerRegistryFromGroup.
type HandlerRegistryParams struct {
	fx.In
	Handlers []NamedHandler `group:"job_handlers"`
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// NewHandlerRegistryFromGroup builds a registry from the Fx value group.
func NewHandlerRegistryFromGroup(p HandlerRegistryParams) (*HandlerRegistry, error) {
	r := NewHandlerRegistry()
	for _, nh := range p.Handlers {
		if err := r.Register(nh.JobType, nh.Handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds h under jobType.
func (r *HandlerRegistry) Register(jobType string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if jobType == "" || h == nil {
		return fmt.Errorf("job handler registration requires a job type and a handler")
	}
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("job handler for '%s' is already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Lookup returns the handler of jobType.
func (r *HandlerRegistry) Lookup(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job type '%s'", jobType)
	}
	return h, nil
}

// Has reports whether jobType has a handler.
func (r *HandlerRegistry) Has(jobType string) bool {
	_, err := r.Lookup(jobType)
	return err == nil
}

// JobTypes returns the registered job types in order.
func (r *HandlerRegistry) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
