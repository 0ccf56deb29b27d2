// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"fmt"
	"reflect"
)

// Command is a message travelling downstream, from the application
// toward the socket.
//
// The built-in commands are [Send], [Close], [StopReading], [ResumeReading]
// and [Deliver]. Protocol stages define their own commands by embedding
// [CustomCommand].
type Command interface {
	command()
}

// Event is a message travelling upstream, from the socket toward
// the application.
//
// The built-in events are [Closed], [Received], [Ack],
// [WatchedEntityTerminated] and [CommandFailed]. Protocol stages define
// their own events by embedding [CustomEvent].
type Event interface {
	event()
}

// CustomCommand makes any struct embedding it a [Command].
type CustomCommand struct{}

func (CustomCommand) command() {}

// CustomEvent makes any struct embedding it an [Event].
type CustomEvent struct{}

func (CustomEvent) event() {}

// Droppable marks a message as intentionally unhandled: when no stage
// consumes it, the pipeline ignores it without emitting a warning.
//
// Embed [DroppableTag] to make a message type droppable.
type Droppable interface {
	Droppable() bool
}

// DroppableTag implements [Droppable] when embedded in a message type.
type DroppableTag struct{}

// Droppable implements [Droppable].
func (DroppableTag) Droppable() bool { return true }

// isDroppable returns whether msg opted out of the unmatched-message warning.
func isDroppable(msg any) bool {
	d, ok := msg.(Droppable)
	return ok && d.Droppable()
}

// MessageName returns the unqualified type name of msg, as used in
// logs and metrics.
func MessageName(msg any) string {
	if msg == nil {
		return "nil"
	}
	t := reflect.TypeOf(msg)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// ---- commands ----

// Send asks the reactor to write Data to the socket.
//
// When Ack is not nil the reactor emits an [Ack] event carrying it
// once Data has been flushed.
type Send struct {
	Data []byte
	Ack  any
}

func (Send) command() {}

// Close asks the reactor to tear down the socket.
//
// The connection ends when the corresponding [Closed] event arrives.
type Close struct {
	Reason ClosedReason
}

func (Close) command() {}

// StopReading asks the reactor to suspend inbound reads.
type StopReading struct{}

func (StopReading) command() {}

// ResumeReading asks the reactor to resume inbound reads.
type ResumeReading struct{}

func (ResumeReading) command() {}

// Deliver routes Message to an arbitrary external Target.
//
// If Sender is nil the owning [*ConnectionActor] is used as sender.
// A delivery failure comes back as a [CommandFailed] event.
type Deliver struct {
	Target  Recipient
	Message any
	Sender  Recipient
}

func (Deliver) command() {}

// ---- events ----

// Closed reports that the socket has been torn down.
//
// Observing Closed stops the owning [*ConnectionActor].
type Closed struct {
	Reason ClosedReason
}

func (Closed) event() {}

// Received carries bytes read from the socket.
type Received struct {
	Data []byte
}

func (Received) event() {}

// Ack carries the token of a [Send] whose data has been flushed.
type Ack struct {
	Token any
}

func (Ack) event() {}

// WatchedEntityTerminated reports that an entity registered
// with [*PipelineContext.Watch] has terminated.
type WatchedEntityTerminated struct {
	ID string
}

func (WatchedEntityTerminated) event() {}

// CommandFailed reports that issuing Command failed asynchronously,
// for example because the reactor rejected it or a [Deliver] target
// refused the message.
type CommandFailed struct {
	Command Command
	Err     error
}

func (CommandFailed) event() {}

// ---- closed reasons ----

// ClosedReason describes why a connection ended.
//
// The variants are [PeerClosed], [ProtocolError], [InternalError],
// [ConfirmedClose] and [ErrorClosed].
type ClosedReason interface {
	closedReason()
	String() string
}

// PeerClosed means the peer closed the connection.
type PeerClosed struct{}

func (PeerClosed) closedReason() {}

// String implements [ClosedReason].
func (PeerClosed) String() string { return "peerClosed" }

// ProtocolError means a stage found the peer violating the protocol.
type ProtocolError struct {
	Err error
}

func (ProtocolError) closedReason() {}

// String implements [ClosedReason].
func (r ProtocolError) String() string {
	if r.Err == nil {
		return "protocolError"
	}
	return fmt.Sprintf("protocolError: %s", r.Err.Error())
}

// InternalError means the connection was released because its
// [*ConnectionActor] terminated without observing [Closed].
type InternalError struct{}

func (InternalError) closedReason() {}

// String implements [ClosedReason].
func (InternalError) String() string { return "internalError" }

// ConfirmedClose means the connection was closed on request and both
// sides agreed. By identifies who asked for the close.
type ConfirmedClose struct {
	By string
}

func (ConfirmedClose) closedReason() {}

// String implements [ClosedReason].
func (r ConfirmedClose) String() string { return "confirmedClose by " + r.By }

// ErrorClosed means the socket failed with an I/O error. Class is the
// result of classifying Err with the configured [ErrClassifier].
type ErrorClosed struct {
	Class string
	Err   error
}

func (ErrorClosed) closedReason() {}

// String implements [ClosedReason].
func (r ErrorClosed) String() string { return "errorClosed: " + r.Class }

// reasonLabel returns a low-cardinality name for r, suitable for metrics.
func reasonLabel(r ClosedReason) string {
	switch r.(type) {
	case nil:
		return "unknown"
	case PeerClosed:
		return "peerClosed"
	case ProtocolError:
		return "protocolError"
	case InternalError:
		return "internalError"
	case ConfirmedClose:
		return "confirmedClose"
	case ErrorClosed:
		return "errorClosed"
	default:
		return MessageName(r)
	}
}

// reasonString returns a description of r for logging.
func reasonString(r ClosedReason) string {
	if r == nil {
		return "<nil>"
	}
	return r.String()
}
