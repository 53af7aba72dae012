// Package bus routes JSON messages between the coordinator and page
// contexts living in the same process. Services register a Handler under a
// name; callers address them by name without holding a reference.
//
//	b := bus.New()
//	b.Register("zapelm.coordinator", coord.Handle)
//	resp, err := b.Call(ctx, "zapelm.coordinator", payload)
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Handler is a service function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// ErrUnreachable is matched by every error returned for a service that has
// no registered handler.
var ErrUnreachable = errors.New("bus: could not establish connection")

// ErrServiceNotFound names the service a call could not reach.
type ErrServiceNotFound struct {
	Service string
}

func (e *ErrServiceNotFound) Error() string {
	return fmt.Sprintf("bus: could not establish connection: receiving end does not exist: %s", e.Service)
}

func (e *ErrServiceNotFound) Is(target error) bool { return target == ErrUnreachable }

// Bus is a concurrency-safe service registry.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	middleware []Middleware
	logger     *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithMiddleware wraps every handler registered afterwards.
func WithMiddleware(mws ...Middleware) Option {
	return func(b *Bus) { b.middleware = append(b.middleware, mws...) }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{handlers: make(map[string]Handler)}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Register installs h under service, replacing any previous handler.
func (b *Bus) Register(service string, h Handler) {
	if len(b.middleware) > 0 {
		h = Chain(b.middleware...)(h)
	}
	b.mu.Lock()
	b.handlers[service] = h
	b.mu.Unlock()
	b.logger.Debug("bus: registered", "service", service)
}

// Unregister removes a service. Later calls fail with ErrUnreachable.
func (b *Bus) Unregister(service string) {
	b.mu.Lock()
	delete(b.handlers, service)
	b.mu.Unlock()
	b.logger.Debug("bus: unregistered", "service", service)
}

// Has reports whether service is registered.
func (b *Bus) Has(service string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[service]
	return ok
}

// Services lists the registered services with the given prefix, sorted.
func (b *Bus) Services(prefix string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for name := range b.handlers {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Call invokes a service.
func (b *Bus) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	b.mu.RLock()
	h := b.handlers[service]
	b.mu.RUnlock()
	if h == nil {
		return nil, &ErrServiceNotFound{Service: service}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h(ctx, payload)
}
