// Package interfaces defines the core abstractions for the streaming proxy.
package interfaces

import (
	"context"
	"net/http"

	"anistream-proxy/pkg/types"
)

// StreamHandler serves one proxy endpoint kind (manifest, key, video, ...).
//
// To add a new endpoint:
// 1. Create a new file in pkg/handlers/streams/
// 2. Implement this interface
// 3. Register it in the StreamHandlerRegistry and route it in pkg/handlers/api
type StreamHandler interface {
	// Type returns the endpoint kind this handler serves.
	Type() types.StreamType

	// Handle fetches the requested resource and prepares the response.
	// The returned body, if any, must be closed by the caller.
	Handle(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error)
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry is a generic interface for component registries.
type Registry[K comparable, T any] interface {
	// Register adds a component to the registry.
	Register(component T)

	// Get returns the component registered under key.
	Get(key K) T

	// All returns all registered components.
	All() []T
}
