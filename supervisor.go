// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrSupervisorClosed is returned when starting a [*ConnectionActor] under a
// [*Supervisor] that has been shut down.
var ErrSupervisorClosed = errors.New("sockpipe: supervisor shut down")

// FaultFunc observes a fault that stopped a [*ConnectionActor].
//
// The recovered argument is the value passed to panic, stack is the
// goroutine stack at that point, and msg is the message being dispatched
// (nil if the fault happened while building the pipeline).
type FaultFunc func(id ActorID, recovered any, stack []byte, msg any)

// Supervisor applies the fail-stop policy to a set of [*ConnectionActor].
//
// A fault raised while an actor dispatches a message is unrecoverable for that
// actor: the supervisor logs it and the actor stops, releasing its socket.
// Actors are never restarted or resumed, and a fault never affects siblings.
//
// All fields are safe to modify after construction but before first use.
type Supervisor struct {
	// Logger is the [SLogger] used to report faults.
	//
	// Set by [NewSupervisor] to the user-provided logger.
	Logger SLogger

	// Metrics counts faults.
	//
	// Set by [NewSupervisor] from [Config.Metrics].
	Metrics Metrics

	// OnFault, when not nil, is called for every fault after logging.
	OnFault FaultFunc

	mu       sync.Mutex
	children map[ActorID]*ConnectionActor
	closed   bool
	wg       sync.WaitGroup
}

// NewSupervisor returns a new [*Supervisor].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewSupervisor(cfg *Config, logger SLogger) *Supervisor {
	return &Supervisor{
		Logger:   logger,
		Metrics:  cfg.Metrics,
		children: make(map[ActorID]*ConnectionActor),
	}
}

// adopt starts supervising a, unless Shutdown has been called.
func (s *Supervisor) adopt(a *ConnectionActor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSupervisorClosed
	}
	s.children[a.id] = a
	s.wg.Add(1)
	return nil
}

// release stops supervising a; called by a once it has terminated.
func (s *Supervisor) release(a *ConnectionActor) {
	s.mu.Lock()
	if _, ok := s.children[a.id]; ok {
		delete(s.children, a.id)
		s.wg.Done()
	}
	s.mu.Unlock()
}

// fault records a fault of a. The caller stops a afterwards.
func (s *Supervisor) fault(a *ConnectionActor, recovered any, stack []byte, msg any) {
	s.Metrics.ConnectionFault()
	s.Logger.Error(
		"connectionFault",
		slog.String("actorID", string(a.id)),
		slog.String("connKey", string(a.handle.Key())),
		slog.String("err", fmt.Sprint(recovered)),
		slog.String("msgType", MessageName(msg)),
		slog.String("stack", string(stack)),
	)
	if s.OnFault != nil {
		s.OnFault(a.id, recovered, stack, msg)
	}
}

// Len returns the number of live supervised actors.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// Shutdown forcibly stops every supervised actor and waits for all of them
// to terminate. Each actor that had not observed [Closed] sends exactly one
// Close([InternalError]) to its reactor while stopping. Afterwards, new
// actors are refused with [ErrSupervisorClosed].
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	children := make([]*ConnectionActor, 0, len(s.children))
	for _, a := range s.children {
		children = append(children, a)
	}
	s.mu.Unlock()

	for _, a := range children {
		a.Stop()
	}
	s.Wait()
}

// Wait blocks until every supervised actor has terminated.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
