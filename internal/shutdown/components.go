package shutdown

import (
	"context"
	"io"
	"net/http"
)

// HTTPServerComponent stops an http.Server, letting in-flight requests finish.
type HTTPServerComponent struct {
	name   string
	server *http.Server
}

// NewHTTPServerComponent creates a new HTTP server shutdown component.
func NewHTTPServerComponent(name string, server *http.Server) *HTTPServerComponent {
	return &HTTPServerComponent{
		name:   name,
		server: server,
	}
}

// Name returns the component name.
func (c *HTTPServerComponent) Name() string {
	return c.name
}

// Shutdown gracefully shuts down the HTTP server.
func (c *HTTPServerComponent) Shutdown(ctx context.Context) error {
	return c.server.Shutdown(ctx)
}

// CloserComponent wraps an io.Closer, such as a sink.
type CloserComponent struct {
	name   string
	closer io.Closer
}

// NewCloserComponent creates a new closer shutdown component.
func NewCloserComponent(name string, closer io.Closer) *CloserComponent {
	return &CloserComponent{
		name:   name,
		closer: closer,
	}
}

// Name returns the component name.
func (c *CloserComponent) Name() string {
	return c.name
}

// Shutdown closes the underlying resource.
func (c *CloserComponent) Shutdown(ctx context.Context) error {
	return c.closer.Close()
}

// FuncComponent wraps a shutdown function as a component.
type FuncComponent struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncComponent creates a new function-based shutdown component.
func NewFuncComponent(name string, fn func(ctx context.Context) error) *FuncComponent {
	return &FuncComponent{
		name: name,
		fn:   fn,
	}
}

// Name returns the component name.
func (c *FuncComponent) Name() string {
	return c.name
}

// Shutdown calls the wrapped function.
func (c *FuncComponent) Shutdown(ctx context.Context) error {
	return c.fn(ctx)
}
