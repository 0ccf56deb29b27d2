// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Key is the opaque identifier of a socket managed by a [Reactor].
type Key string

// NewKey returns a new UUIDv7 [Key].
//
// Keys are time-ordered, so sorting log lines by connKey roughly
// follows the order in which sockets were accepted or established.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewKey() Key {
	return Key(runtimex.PanicOnError1(uuid.NewV7()).String())
}

// String implements [fmt.Stringer].
func (k Key) String() string {
	return string(k)
}

// ActorID identifies a [*ConnectionActor] within a [*Registry].
//
// A [*Handle] stores the ActorID of its owner rather than a pointer
// to it, so handle and actor never reference each other directly.
type ActorID string

// NewActorID returns a new random [ActorID].
//
// This function panics if the system random number generator fails.
func NewActorID() ActorID {
	return ActorID("conn-" + gonanoid.Must())
}

// String implements [fmt.Stringer].
func (id ActorID) String() string {
	return string(id)
}
