// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"errors"
	"sync/atomic"

	"github.com/bassosimone/runtimex"
)

var (
	// ErrTagNotAvailable is returned when reading the tag of a [*Handle]
	// that did not go through [*PendingHandle.WithTag].
	ErrTagNotAvailable = errors.New("sockpipe: connection tag not available")

	// ErrHandlerNotAvailable is returned when reading the owner of a [*Handle]
	// that did not go through [*TaggedHandle.Bind].
	ErrHandlerNotAvailable = errors.New("sockpipe: connection handler not available")

	// ErrHandleSealed is returned when a construction phase runs twice.
	ErrHandleSealed = errors.New("sockpipe: handle construction phase already completed")

	// ErrEmptyActorID is returned when binding a handle to an empty [ActorID].
	ErrEmptyActorID = errors.New("sockpipe: empty actor id")
)

// PendingHandle is the first construction phase of a connection handle.
//
// Only the key, the reactor and the commander exist at this point, so this
// type offers no accessor for the tag or the owning actor. The tag hook
// ([*ConnectionSystem.ConnectionTag]) runs against a PendingHandle.
type PendingHandle struct {
	key       Key
	reactor   Reactor
	commander Recipient
	sealed    atomic.Bool
}

// NewPendingHandle starts the construction of a handle.
//
// This function panics if reactor is nil.
func NewPendingHandle(key Key, reactor Reactor, commander Recipient) *PendingHandle {
	runtimex.Assert(reactor != nil)
	return &PendingHandle{
		key:       key,
		reactor:   reactor,
		commander: commander,
	}
}

// Key returns the socket key.
func (p *PendingHandle) Key() Key { return p.key }

// Reactor returns the reactor owning the socket.
func (p *PendingHandle) Reactor() Reactor { return p.reactor }

// Commander returns the entity that requested the connection.
func (p *PendingHandle) Commander() Recipient { return p.commander }

// WithTag completes the first phase by assigning the application tag.
//
// It may be called only once per PendingHandle.
func (p *PendingHandle) WithTag(tag any) (*TaggedHandle, error) {
	if !p.sealed.CompareAndSwap(false, true) {
		return nil, ErrHandleSealed
	}
	return &TaggedHandle{
		key:       p.key,
		reactor:   p.reactor,
		commander: p.commander,
		tag:       tag,
	}, nil
}

// TaggedHandle is the second construction phase: the tag is known but the
// owning actor does not exist yet.
type TaggedHandle struct {
	key       Key
	reactor   Reactor
	commander Recipient
	tag       any
	sealed    atomic.Bool
}

// Key returns the socket key.
func (t *TaggedHandle) Key() Key { return t.key }

// Reactor returns the reactor owning the socket.
func (t *TaggedHandle) Reactor() Reactor { return t.reactor }

// Commander returns the entity that requested the connection.
func (t *TaggedHandle) Commander() Recipient { return t.commander }

// Tag returns the application tag.
func (t *TaggedHandle) Tag() any { return t.tag }

// Bind completes construction by naming the owning actor.
//
// It may be called only once per TaggedHandle.
func (t *TaggedHandle) Bind(id ActorID) (*Handle, error) {
	if id == "" {
		return nil, ErrEmptyActorID
	}
	if !t.sealed.CompareAndSwap(false, true) {
		return nil, ErrHandleSealed
	}
	return &Handle{
		key:       t.key,
		reactor:   t.reactor,
		commander: t.commander,
		tag:       t.tag,
		tagSet:    true,
		actorID:   id,
	}, nil
}

// Handle is the immutable identity and capability record of one connection.
//
// Build it with [NewPendingHandle], [*PendingHandle.WithTag] and
// [*TaggedHandle.Bind]. A Handle obtained any other way (e.g., the zero value)
// reports [ErrTagNotAvailable] and [ErrHandlerNotAvailable] rather than
// returning empty values.
type Handle struct {
	key       Key
	reactor   Reactor
	commander Recipient
	tag       any
	tagSet    bool
	actorID   ActorID
}

// Key returns the socket key.
func (h *Handle) Key() Key { return h.key }

// Reactor returns the reactor owning the socket.
func (h *Handle) Reactor() Reactor { return h.reactor }

// Commander returns the entity that requested the connection.
func (h *Handle) Commander() Recipient { return h.commander }

// Tag returns the application tag.
func (h *Handle) Tag() (any, error) {
	if !h.tagSet {
		return nil, ErrTagNotAvailable
	}
	return h.tag, nil
}

// MustTag is like [*Handle.Tag] but panics on error.
func (h *Handle) MustTag() any {
	return runtimex.PanicOnError1(h.Tag())
}

// ActorID returns the identifier of the owning [*ConnectionActor].
func (h *Handle) ActorID() (ActorID, error) {
	if h.actorID == "" {
		return "", ErrHandlerNotAvailable
	}
	return h.actorID, nil
}

// String implements [fmt.Stringer].
func (h *Handle) String() string {
	return "connection " + string(h.key)
}
