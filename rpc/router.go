package rpc

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/errors"
)

// Handler serves one method. body is the encoded argument; the returned
// bytes are the encoded result.
type Handler func(ctx context.Context, codec Codec, body []byte) ([]byte, error)

// Router maps method names to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Handle registers h for name, replacing any previous handler.
func (r *Router) Handle(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]Handler)
	}
	r.handlers[name] = h
}

// Unbind removes the handler for name.
func (r *Router) Unbind(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// Methods returns the registered names in sorted order.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Bind registers a typed function as the handler for name.
func Bind[A, R any](r *Router, name string, fn func(ctx context.Context, args A) (R, error)) {
	r.Handle(name, func(ctx context.Context, codec Codec, body []byte) ([]byte, error) {
		var args A
		if err := codec.Unmarshal(body, &args); err != nil {
			return nil, errors.Annotatef(err, "decode arguments of %s", name)
		}
		res, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}
		out, err := codec.Marshal(res)
		if err != nil {
			return nil, errors.Annotatef(err, "encode result of %s", name)
		}
		return out, nil
	})
}

// BindNotify registers a function for a method that returns nothing.
func BindNotify[A any](r *Router, name string, fn func(ctx context.Context, args A)) {
	r.Handle(name, func(ctx context.Context, codec Codec, body []byte) ([]byte, error) {
		var args A
		if err := codec.Unmarshal(body, &args); err != nil {
			return nil, errors.Annotatef(err, "decode arguments of %s", name)
		}
		fn(ctx, args)
		return nil, nil
	})
}
