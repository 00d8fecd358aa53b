// Package component holds the embeddable building blocks shared by servers,
// sessions and clients: loop binding, timestamps, timers, user data and the
// socket option helpers.
package component

import (
	"context"
	"errors"

	"github.com/zhllxt/asio2-sub011/iopool"
)

var (
	// ErrNotInLoop is the panic value of AssertInLoop.
	ErrNotInLoop = errors.New("component: called outside the bound loop")

	// ErrNoLoop indicates that no loop has been bound yet.
	ErrNoLoop = errors.New("component: no loop bound")
)

// IOContext binds its owner to a single iopool.Loop.
type IOContext struct {
	loop *iopool.Loop
}

// BindLoop sets the loop. It must be called before the owner is shared.
func (c *IOContext) BindLoop(l *iopool.Loop) {
	c.loop = l
}

// Loop returns the bound loop.
func (c *IOContext) Loop() *iopool.Loop {
	return c.loop
}

// Post queues fn on the bound loop.
func (c *IOContext) Post(fn iopool.Task) error {
	if c.loop == nil {
		return ErrNoLoop
	}
	return c.loop.Post(fn)
}

// Dispatch runs fn inline when ctx belongs to the bound loop, otherwise posts it.
func (c *IOContext) Dispatch(ctx context.Context, fn iopool.Task) error {
	if c.loop == nil {
		return ErrNoLoop
	}
	return c.loop.Dispatch(ctx, fn)
}

// InLoop reports whether ctx belongs to the bound loop.
func (c *IOContext) InLoop(ctx context.Context) bool {
	return c.loop != nil && c.loop.Contains(ctx)
}

// AssertInLoop panics with ErrNotInLoop unless ctx belongs to the bound loop.
func (c *IOContext) AssertInLoop(ctx context.Context) {
	if !c.InLoop(ctx) {
		panic(ErrNotInLoop)
	}
}
