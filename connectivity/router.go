// Package connectivity carries action requests from a trigger surface to
// the handlers that serve them. Handlers are plain functions, bytes in and
// bytes out, registered under a service name and wrapped by middleware.
//
//	router := connectivity.New(connectivity.WithMiddleware(
//		connectivity.Recovery(logger),
//		connectivity.Logging(logger),
//	))
//	router.RegisterLocal("triage", engine.Handle)
//	resp, err := router.Call(ctx, "triage", payload)
//
// A service that is not registered answers with *ErrServiceNotFound, the
// signal WithReinstall uses to install it once and retry.
package connectivity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Handler is a transport-agnostic service function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Router dispatches calls to registered handlers.
// Thread-safe: reads use RLock, registration uses full Lock.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	chain    HandlerMiddleware
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every handler registered afterwards with the given
// middlewares, outermost first.
func WithMiddleware(mws ...HandlerMiddleware) Option {
	return func(r *Router) { r.chain = Chain(mws...) }
}

// New creates a Router with no handlers.
func New(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers a handler for a service, replacing any previous
// one.
func (r *Router) RegisterLocal(service string, h Handler) {
	if r.chain != nil {
		h = r.chain(h)
	}
	r.mu.Lock()
	r.handlers[service] = h
	r.mu.Unlock()
	r.logger.Debug("connectivity: registered", "service", service)
}

// Unregister removes a service. Later calls fail with ErrServiceNotFound.
func (r *Router) Unregister(service string) {
	r.mu.Lock()
	delete(r.handlers, service)
	r.mu.Unlock()
}

// Has reports whether a service is registered.
func (r *Router) Has(service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[service]
	return ok
}

// Services lists registered services, sorted.
func (r *Router) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Call dispatches a service call.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h := r.handlers[service]
	r.mu.RUnlock()

	if h == nil {
		return nil, &ErrServiceNotFound{Service: service}
	}
	r.logger.DebugContext(ctx, "connectivity: routing local", "service", service)
	return h(ctx, payload)
}
