// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"errors"
	"sync"
)

var (
	// ErrUnknownConnection is returned when no live actor matches a handle.
	ErrUnknownConnection = errors.New("sockpipe: unknown connection")

	// ErrDuplicateActor is returned when registering an [ActorID] twice.
	ErrDuplicateActor = errors.New("sockpipe: duplicate actor id")
)

// Registry resolves the [ActorID] stored in a [*Handle] to the live
// [*ConnectionActor]. Actors leave the registry when they terminate.
//
// The zero value is not ready to use; construct with [NewRegistry].
type Registry struct {
	mu     sync.RWMutex
	actors map[ActorID]*ConnectionActor
}

// NewRegistry returns an empty [*Registry].
func NewRegistry() *Registry {
	return &Registry{actors: make(map[ActorID]*ConnectionActor)}
}

// Register adds a and arranges for its removal once it terminates.
func (r *Registry) Register(a *ConnectionActor) error {
	r.mu.Lock()
	if _, found := r.actors[a.id]; found {
		r.mu.Unlock()
		return ErrDuplicateActor
	}
	r.actors[a.id] = a
	r.mu.Unlock()

	go func() {
		<-a.Done()
		r.mu.Lock()
		if r.actors[a.id] == a {
			delete(r.actors, a.id)
		}
		r.mu.Unlock()
	}()
	return nil
}

// Lookup returns the live actor with the given id.
func (r *Registry) Lookup(id ActorID) (*ConnectionActor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, found := r.actors[id]
	return a, found
}

// Resolve returns the live actor owning h.
func (r *Registry) Resolve(h *Handle) (*ConnectionActor, error) {
	id, err := h.ActorID()
	if err != nil {
		return nil, err
	}
	a, found := r.Lookup(id)
	if !found {
		return nil, ErrUnknownConnection
	}
	return a, nil
}

// Len returns the number of live actors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}
