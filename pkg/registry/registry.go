// Package registry maps proxy endpoint kinds to their stream handlers.
package registry

import (
	"sync"

	"anistream-proxy/pkg/interfaces"
	"anistream-proxy/pkg/types"
)

var _ interfaces.Registry[types.StreamType, interfaces.StreamHandler] = (*StreamHandlerRegistry)(nil)

// StreamHandlerRegistry manages stream handlers. It is filled at startup and
// only read afterwards.
type StreamHandlerRegistry struct {
	mu       sync.RWMutex
	handlers []interfaces.StreamHandler
	byType   map[types.StreamType]interfaces.StreamHandler
}

// NewStreamHandlerRegistry creates a new stream handler registry.
func NewStreamHandlerRegistry() *StreamHandlerRegistry {
	return &StreamHandlerRegistry{
		handlers: make([]interfaces.StreamHandler, 0),
		byType:   make(map[types.StreamType]interfaces.StreamHandler),
	}
}

// Register adds a stream handler to the registry. A later handler of the
// same type replaces the earlier one.
func (r *StreamHandlerRegistry) Register(handler interfaces.StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byType[handler.Type()]; exists {
		for i, h := range r.handlers {
			if h.Type() == handler.Type() {
				r.handlers[i] = handler
			}
		}
	} else {
		r.handlers = append(r.handlers, handler)
	}
	r.byType[handler.Type()] = handler
}

// Get returns the handler for the given endpoint kind, or nil.
func (r *StreamHandlerRegistry) Get(t types.StreamType) interfaces.StreamHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[t]
}

// Types returns the registered endpoint kinds in registration order.
func (r *StreamHandlerRegistry) Types() []types.StreamType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]types.StreamType, len(r.handlers))
	for i, h := range r.handlers {
		result[i] = h.Type()
	}
	return result
}

// All returns all registered handlers.
func (r *StreamHandlerRegistry) All() []interfaces.StreamHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.StreamHandler, len(r.handlers))
	copy(result, r.handlers)
	return result
}
