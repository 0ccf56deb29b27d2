// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/bassosimone/runtimex"
)

var (
	// ErrActorStopped is returned when messaging a terminated [*ConnectionActor].
	ErrActorStopped = errors.New("sockpipe: connection actor stopped")

	// ErrMailboxFull is returned by [*ConnectionActor.Tell] when the mailbox is full.
	ErrMailboxFull = errors.New("sockpipe: connection actor mailbox full")

	// ErrUnsupportedMessage is returned when messaging a [*ConnectionActor]
	// with something that is neither a [Command] nor an [Event].
	ErrUnsupportedMessage = errors.New("sockpipe: message is neither a command nor an event")

	// ErrNoDeliverTarget is reported through [CommandFailed] for a [Deliver]
	// command without a target.
	ErrNoDeliverTarget = errors.New("sockpipe: deliver without target")
)

// ConnectionActor is the execution unit owning one connection.
//
// It builds the pipeline once, from its own goroutine, then dispatches every
// [Command] it receives into the command pipeline and every [Event] into the
// event pipeline, strictly one message at a time. Commands leaving the
// socket-facing end are issued to the [Reactor] addressed by the handle;
// failures to issue them come back as [CommandFailed] events.
//
// The actor stops when the event pipeline delivers [Closed] to its
// application-facing end: it records the reason, forwards the event to the
// commander, and processes nothing else. It also stops when [*ConnectionActor.Stop]
// is called or when dispatching a message panics (see [*Supervisor]); in those
// cases it sends exactly one Close([InternalError]) to the reactor so the socket
// is released no matter how the actor ended.
type ConnectionActor struct {
	cfg        *Config
	handle     *Handle
	id         ActorID
	logger     SLogger
	stage      Stage
	supervisor *Supervisor

	ctx    context.Context
	cancel context.CancelFunc

	mailbox  chan any
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// The fields below are owned by the run goroutine. Other goroutines
	// may read reason and closed once done is closed.
	pipelines Pipelines
	injected  []Event
	reason    ClosedReason
	closed    bool
}

var (
	_ Recipient         = &ConnectionActor{}
	_ BlockingRecipient = &ConnectionActor{}
	_ Watchable         = &ConnectionActor{}
)

// NewConnectionActor creates and starts the actor owning handle.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
//
// The handle must be complete (see [*TaggedHandle.Bind]); stage defines the
// protocol behavior and supervisor applies the fail-stop policy.
func NewConnectionActor(cfg *Config, logger SLogger, handle *Handle, stage Stage, supervisor *Supervisor) (*ConnectionActor, error) {
	runtimex.Assert(stage != nil)
	runtimex.Assert(supervisor != nil)
	if _, err := handle.Tag(); err != nil {
		return nil, err
	}
	id, err := handle.ActorID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &ConnectionActor{
		cfg:        cfg,
		handle:     handle,
		id:         id,
		logger:     logger,
		stage:      stage,
		supervisor: supervisor,
		ctx:        ctx,
		cancel:     cancel,
		mailbox:    make(chan any, max(cfg.MailboxSize, 1)),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if err := supervisor.adopt(a); err != nil {
		cancel()
		return nil, err
	}
	cfg.Metrics.ConnectionOpened()
	logger.Info(
		"connectionOpen",
		slog.String("actorID", string(id)),
		slog.String("connKey", string(handle.Key())),
		slog.Time("t", cfg.TimeNow()),
	)

	go a.run()
	return a, nil
}

// ID returns the actor identifier.
func (a *ConnectionActor) ID() ActorID { return a.id }

// Handle returns the connection handle.
func (a *ConnectionActor) Handle() *Handle { return a.handle }

// WatchID implements [Watchable].
func (a *ConnectionActor) WatchID() string { return string(a.id) }

// Done implements [Watchable]. It is closed once the actor has terminated
// and released its socket.
func (a *ConnectionActor) Done() <-chan struct{} { return a.done }

// Stop forces the actor to terminate without waiting for [Closed].
//
// It does not block; use [*ConnectionActor.Done] to wait. Calling Stop
// more than once is harmless.
func (a *ConnectionActor) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// ClosedReason returns the reason the connection ended and whether it was
// observed through a [Closed] event. Before the actor terminates it returns
// (nil, false); after a forced termination it returns ([InternalError], false).
func (a *ConnectionActor) ClosedReason() (ClosedReason, bool) {
	select {
	case <-a.done:
		return a.reason, a.closed
	default:
		return nil, false
	}
}

// Tell implements [Recipient] by enqueueing msg without blocking.
//
// The sender is ignored: replies go through the handle's commander.
func (a *ConnectionActor) Tell(msg any, _ Recipient) error {
	if err := checkMessage(msg); err != nil {
		return err
	}
	if a.terminated() {
		return ErrActorStopped
	}
	select {
	case a.mailbox <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Send enqueues msg, blocking until there is room in the mailbox,
// the actor stops, or ctx is done. When there is room msg is enqueued
// even if ctx is already done.
func (a *ConnectionActor) Send(ctx context.Context, msg any) error {
	if err := checkMessage(msg); err != nil {
		return err
	}
	if a.terminated() {
		return ErrActorStopped
	}
	select {
	case a.mailbox <- msg:
		return nil
	default:
	}
	select {
	case a.mailbox <- msg:
		return nil
	case <-a.stop:
		return ErrActorStopped
	case <-a.done:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TellCommand is a typed shortcut for [*ConnectionActor.Tell].
func (a *ConnectionActor) TellCommand(cmd Command) error {
	return a.Tell(cmd, NoSender)
}

// TellEvent is a typed shortcut for [*ConnectionActor.Tell].
func (a *ConnectionActor) TellEvent(ev Event) error {
	return a.Tell(ev, NoSender)
}

func checkMessage(msg any) error {
	switch msg.(type) {
	case Command, Event:
		return nil
	default:
		return ErrUnsupportedMessage
	}
}

func (a *ConnectionActor) terminated() bool {
	select {
	case <-a.stop:
		return true
	case <-a.done:
		return true
	default:
		return false
	}
}

// ---- run loop ----

func (a *ConnectionActor) run() {
	defer close(a.done)
	defer a.supervisor.release(a)
	defer a.cleanup()

	if !a.supervised(nil, a.build) {
		return
	}
	for {
		msg, ok := a.next()
		if !ok {
			return
		}
		if !a.supervised(msg, func() { a.dispatch(msg) }) {
			return
		}
		if a.closed {
			return
		}
	}
}

// next returns the next message to dispatch. Failures injected by the
// previous dispatch come before the mailbox. It returns false once
// the actor has been stopped.
func (a *ConnectionActor) next() (any, bool) {
	select {
	case <-a.stop:
		return nil, false
	default:
	}
	if len(a.injected) > 0 {
		ev := a.injected[0]
		a.injected = a.injected[1:]
		return ev, true
	}
	select {
	case <-a.stop:
		return nil, false
	case msg := <-a.mailbox:
		a.cfg.Metrics.MailboxDepth(len(a.mailbox))
		return msg, true
	}
}

// supervised runs f and reports whether it completed without panicking.
func (a *ConnectionActor) supervised(msg any, f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.supervisor.fault(a, r, debug.Stack(), msg)
			ok = false
		}
	}()
	f()
	return true
}

func (a *ConnectionActor) build() {
	pctx := NewPipelineContext(a.ctx, a.cfg, a.logger, a.handle, a)
	a.pipelines = BuildPipelines(pctx, a.stage, a.issue, a.observe)
}

func (a *ConnectionActor) dispatch(msg any) {
	switch m := msg.(type) {
	case Command:
		defer a.cfg.Metrics.DispatchDuration(DirectionCommand).ObserveDuration()
		a.cfg.Metrics.MessageDispatched(DirectionCommand, MessageName(m))
		a.pipelines.Command(m)
	case Event:
		defer a.cfg.Metrics.DispatchDuration(DirectionEvent).ObserveDuration()
		a.cfg.Metrics.MessageDispatched(DirectionEvent, MessageName(m))
		a.pipelines.Event(m)
	}
}

// issue is the socket-facing end of the pipeline.
func (a *ConnectionActor) issue(cmd Command) bool {
	if a.closed {
		// Stages may still emit commands while Closed travels upward.
		return true
	}
	reactor, key := a.handle.Reactor(), a.handle.Key()
	var err error
	switch c := cmd.(type) {
	case Send:
		err = reactor.Write(key, c.Data, c.Ack)
	case Close:
		reason := c.Reason
		if reason == nil {
			reason = ConfirmedClose{By: string(a.id)}
		}
		err = reactor.Close(key, reason)
	case StopReading:
		err = reactor.StopReading(key)
	case ResumeReading:
		err = reactor.ResumeReading(key)
	case Deliver:
		err = a.deliver(c)
	default:
		return false
	}
	if err != nil {
		a.injected = append(a.injected, CommandFailed{Command: cmd, Err: err})
	}
	return true
}

func (a *ConnectionActor) deliver(d Deliver) error {
	if d.Target == nil {
		return ErrNoDeliverTarget
	}
	sender := d.Sender
	if sender == nil {
		sender = a
	}
	return d.Target.Tell(d.Message, sender)
}

// observe is the application-facing end of the pipeline.
func (a *ConnectionActor) observe(ev Event) bool {
	closed, ok := ev.(Closed)
	if !ok {
		return false
	}
	a.reason = closed.Reason
	a.closed = true
	a.cfg.Metrics.ConnectionClosed(reasonLabel(closed.Reason))
	a.logger.Info(
		"connectionClosed",
		slog.String("actorID", string(a.id)),
		slog.String("connKey", string(a.handle.Key())),
		slog.String("reason", reasonString(closed.Reason)),
		slog.Time("t", a.cfg.TimeNow()),
	)
	if commander := a.handle.Commander(); commander != nil {
		if err := commander.Tell(closed, a); err != nil {
			a.logger.Debug(
				"commanderUnreachable",
				slog.String("actorID", string(a.id)),
				slog.Any("err", err),
			)
		}
	}
	return true
}

// cleanup runs on every exit path of run.
func (a *ConnectionActor) cleanup() {
	a.cancel()
	if a.closed {
		return
	}
	a.reason = InternalError{}
	err := a.handle.Reactor().Close(a.handle.Key(), a.reason)
	a.cfg.Metrics.ConnectionClosed(reasonLabel(a.reason))
	a.logger.Info(
		"connectionReleased",
		slog.String("actorID", string(a.id)),
		slog.String("connKey", string(a.handle.Key())),
		slog.Any("err", err),
		slog.String("reason", reasonString(a.reason)),
		slog.Time("t", a.cfg.TimeNow()),
	)
}
