// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/bassosimone/runtimex"
)

// ErrActorMismatch is returned when [ConnectionSystem.CreateConnectionActor]
// yields an actor that does not own the handle it was given.
var ErrActorMismatch = errors.New("sockpipe: actor does not own the handle")

// ConnectionSystem is the owning system: it turns established sockets into
// [*Handle] values, each owned by one [*ConnectionActor] running Pipeline.
//
// All fields are safe to modify after construction but before first use.
type ConnectionSystem struct {
	// ConnectionTag computes the application tag from the raw tag supplied
	// to [*ConnectionSystem.CreateConnectionHandle]. It runs before the
	// actor exists, so it only sees the first construction phase.
	//
	// Set by [NewConnectionSystem] to [IdentityTag].
	ConnectionTag func(pending *PendingHandle, rawTag any) any

	// CreateConnectionActor spawns the actor owning a complete handle.
	//
	// Set by [NewConnectionSystem] to [*ConnectionSystem.SpawnActor].
	CreateConnectionActor func(handle *Handle) (*ConnectionActor, error)

	// Pipeline is the ordered stage list, application end first, defining
	// all protocol behavior. See [Compose].
	//
	// Set by [NewConnectionSystem] to the user-provided stage.
	Pipeline Stage

	// Registry resolves handles to actors.
	//
	// Set by [NewConnectionSystem] to a new [*Registry].
	Registry *Registry

	// Supervisor applies the fail-stop policy to every actor.
	//
	// Set by [NewConnectionSystem] to a new [*Supervisor].
	Supervisor *Supervisor

	cfg    *Config
	logger SLogger
}

// NewConnectionSystem returns a new [*ConnectionSystem].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
//
// The pipeline argument is the mandatory stage list; use [Compose]
// to build it from several stages.
func NewConnectionSystem(cfg *Config, logger SLogger, pipeline Stage) *ConnectionSystem {
	runtimex.Assert(pipeline != nil)
	s := &ConnectionSystem{
		ConnectionTag: IdentityTag,
		Pipeline:      pipeline,
		Registry:      NewRegistry(),
		Supervisor:    NewSupervisor(cfg, logger),
		cfg:           cfg,
		logger:        logger,
	}
	s.CreateConnectionActor = s.SpawnActor
	return s
}

// IdentityTag is the default tag hook: it returns rawTag unchanged.
func IdentityTag(_ *PendingHandle, rawTag any) any {
	return rawTag
}

// SpawnActor is the default [ConnectionSystem.CreateConnectionActor].
func (s *ConnectionSystem) SpawnActor(handle *Handle) (*ConnectionActor, error) {
	return NewConnectionActor(s.cfg, s.logger, handle, s.Pipeline, s.Supervisor)
}

// CreateConnectionHandle establishes the unit owning one socket.
//
// It runs the two construction phases in order: first the tag hook sees a
// [*PendingHandle] holding key, reactor and commander; then the handle is
// bound to a fresh [ActorID] and the actor is spawned and registered.
func (s *ConnectionSystem) CreateConnectionHandle(key Key, reactor Reactor, commander Recipient, rawTag any) (*Handle, error) {
	pending := NewPendingHandle(key, reactor, commander)
	tagged, err := pending.WithTag(s.ConnectionTag(pending, rawTag))
	if err != nil {
		return nil, err
	}
	handle, err := tagged.Bind(NewActorID())
	if err != nil {
		return nil, err
	}

	actor, err := s.CreateConnectionActor(handle)
	if err != nil {
		return nil, fmt.Errorf("sockpipe: cannot create connection actor: %w", err)
	}
	if actor.Handle() != handle {
		actor.Stop()
		return nil, ErrActorMismatch
	}
	if err := s.Registry.Register(actor); err != nil {
		actor.Stop()
		return nil, err
	}
	return handle, nil
}

// Lookup returns the live actor owning handle.
func (s *ConnectionSystem) Lookup(handle *Handle) (*ConnectionActor, error) {
	return s.Registry.Resolve(handle)
}

// Dispatch delivers msg to the actor owning handle, blocking while its
// mailbox is full. Reactors use it to emit events.
func (s *ConnectionSystem) Dispatch(ctx context.Context, handle *Handle, msg any) error {
	actor, err := s.Lookup(handle)
	if err != nil {
		return err
	}
	return actor.Send(ctx, msg)
}

// Shutdown forcibly stops every actor and waits for them to terminate.
func (s *ConnectionSystem) Shutdown() {
	s.Supervisor.Shutdown()
}
