// SPDX-License-Identifier: GPL-3.0-or-later

// Package sockpipe runs each network connection inside a dedicated actor that
// dispatches messages through a bidirectional pipeline of protocol stages.
//
// # Core Abstraction
//
// Protocol behavior is expressed as a [Stage]:
//
//	type Stage interface {
//		Build(pctx *PipelineContext, commandNext CommandPipeline, eventNext EventPipeline) Pipelines
//	}
//
// A [Command] travels from the application toward the socket; an [Event]
// travels from the socket toward the application. Stages are chained with
// [Compose], which lists them from the application end to the socket end.
// [BuildPipelines] terminates a composed stage with two sinks: messages that
// reach a sink unconsumed are logged as messageDropped and never fail the
// connection, unless they are [Droppable].
//
// # Connection Units
//
// Every socket is owned by exactly one [*ConnectionActor], which receives
// messages in a bounded mailbox and dispatches them one at a time. Handlers
// therefore never need locking.
//
// A [*Handle] identifies the unit: the socket [Key], the owning [Reactor],
// the commander that requested the connection, the application tag, and
// the [ActorID]. Handles are built in two phases ([*PendingHandle] then
// [*TaggedHandle]) so that the tag hook runs before the actor exists.
// [*ConnectionSystem.CreateConnectionHandle] drives both phases.
//
// # Reactors
//
// A [Reactor] owns the sockets and emits events; requests to it never block.
// [*NetReactor] implements it for [net.Conn] sockets, and its connections
// are established with composable [Func] operations:
//
//   - [ConnectFunc]: dials TCP or UDP endpoints
//   - [TLSHandshakeFunc]: performs the TLS handshake over an existing connection
//   - [ObserveConnFunc]: logs I/O operations of a connection
//   - [CancelWatchFunc]: closes a connection when the context is done
//   - [Chain2], [Chain3]: chain Funcs; [NewDialFunc] and [NewTLSDialFunc] do it for you
//
// # Lifecycle Guarantees
//
// Exactly one [Closed] event ends every connection. Observing it stops the
// actor and is forwarded to the commander. An actor that stops for any other
// reason (a fault, [*ConnectionActor.Stop], [*ConnectionSystem.Shutdown])
// releases its socket with [InternalError]. A panic in a stage is a fault:
// the [*Supervisor] logs it and stops only the affected connection.
//
// # Observability
//
// All components support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled.
//
// Events use camelCase names (connectionOpen, connectionClosed, messageDropped,
// connectionFault, readDone, ...) and share the connKey and t fields. Per-read
// and per-write events are emitted at [slog.LevelDebug].
//
// Metrics are collected through the [Metrics] interface set in [Config]; the
// prometheus sub-package provides a Prometheus implementation.
//
// # Reusable Stages
//
// The stages sub-package contains length-prefix framing, a DNS codec, an
// idle timeout, a logging tap and an event forwarder.
package sockpipe
