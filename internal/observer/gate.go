// Package observer holds a host program's main goroutine while it reacts to
// events from running applications, until something releases it.
package observer

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrAlreadyWaiting  = errors.New("observer: Wait may only be called once")
	ErrAlreadyReleased = errors.New("observer: Release may only be called once")
)

// Gate blocks one waiter until it is released. Both sides may act only once.
// A release that happens before Wait is remembered.
type Gate struct {
	mu       sync.Mutex
	waited   bool
	released bool
	ch       chan struct{}
}

// NewGate creates a closed gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Wait blocks until Release is called or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.waited {
		g.mu.Unlock()
		return ErrAlreadyWaiting
	}
	g.waited = true
	g.mu.Unlock()

	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release lets the waiter continue.
func (g *Gate) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return ErrAlreadyReleased
	}
	g.released = true
	close(g.ch)
	return nil
}

// Released reports whether Release has been called.
func (g *Gate) Released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

var defaultGate = NewGate()

// Hold blocks the caller on the process-wide default gate.
func Hold() error { return defaultGate.Wait(context.Background()) }

// Release opens the process-wide default gate.
func Release() error { return defaultGate.Release() }
