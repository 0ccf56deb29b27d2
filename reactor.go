// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

// Reactor is the component owning sockets and their readiness-driven loop.
//
// All methods are fire-and-forget requests: they must not block on I/O. The
// returned error only means the request could not be accepted (e.g., unknown
// key or stopped reactor); the outcome of an accepted request arrives later
// as an [Event] delivered to the [*ConnectionActor] owning the socket.
//
// A reactor must emit exactly one [Closed] event per socket, and must emit
// events for a socket in the order it produced them.
type Reactor interface {
	// Write queues data for writing. When ack is not nil an [Ack]
	// carrying it is emitted once the data has been flushed.
	Write(key Key, data []byte, ack any) error

	// Close tears down the socket and eventually emits [Closed].
	Close(key Key, reason ClosedReason) error

	// StopReading suspends inbound reads.
	StopReading(key Key) error

	// ResumeReading resumes inbound reads.
	ResumeReading(key Key) error
}
