// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"context"
	"log/slog"
	"time"

	"github.com/bassosimone/runtimex"
)

// PipelineContext binds a [*Handle] to the facilities available to stages.
//
// A PipelineContext has no lifecycle of its own: [*PipelineContext.Context]
// is cancelled when the owning [*ConnectionActor] stops, which also cancels
// pending timers and watches.
type PipelineContext struct {
	ctx     context.Context
	handle  *Handle
	logger  SLogger
	metrics Metrics
	self    Recipient
	timeNow func() time.Time
}

// NewPipelineContext creates a [*PipelineContext].
//
// The cfg argument provides metrics and the clock.
//
// The logger argument is the [SLogger] stages should log with.
//
// The ctx argument bounds timers and watches.
//
// The self argument is where timers and watches deliver their messages;
// [*ConnectionActor] passes itself.
func NewPipelineContext(ctx context.Context, cfg *Config, logger SLogger, handle *Handle, self Recipient) *PipelineContext {
	runtimex.Assert(handle != nil)
	return &PipelineContext{
		ctx:     ctx,
		handle:  handle,
		logger:  logger,
		metrics: cfg.Metrics,
		self:    self,
		timeNow: cfg.TimeNow,
	}
}

// Context returns the context bound to the connection lifetime.
func (pctx *PipelineContext) Context() context.Context { return pctx.ctx }

// Handle returns the connection handle.
func (pctx *PipelineContext) Handle() *Handle { return pctx.handle }

// Logger returns the [SLogger] for this connection.
func (pctx *PipelineContext) Logger() SLogger { return pctx.logger }

// Self returns the [Recipient] that feeds this connection's pipeline.
func (pctx *PipelineContext) Self() Recipient { return pctx.self }

// TimeNow returns the current time according to the configured clock.
func (pctx *PipelineContext) TimeNow() time.Time { return pctx.timeNow() }

// ScheduleOnce delivers msg, which must be a [Command] or an [Event], to
// [*PipelineContext.Self] after d has elapsed. The message goes through the
// mailbox and is dispatched like any other one.
//
// The returned function cancels the timer and reports whether it did so
// before the message was delivered. Timers are cancelled automatically
// when the connection stops.
func (pctx *PipelineContext) ScheduleOnce(d time.Duration, msg any) (cancel func() bool) {
	timer := time.AfterFunc(d, func() {
		pctx.deliver("scheduledMessageLost", msg)
	})
	stop := context.AfterFunc(pctx.ctx, func() { timer.Stop() })
	return func() bool {
		stop()
		return timer.Stop()
	}
}

// Watch arranges for a [WatchedEntityTerminated] event to be dispatched
// through the event pipeline once w terminates.
//
// The watch is abandoned when the connection stops first.
func (pctx *PipelineContext) Watch(w Watchable) {
	id := w.WatchID()
	go func() {
		select {
		case <-pctx.ctx.Done():
		case <-w.Done():
			pctx.deliver("watchNotificationLost", WatchedEntityTerminated{ID: id})
		}
	}()
}

// deliver hands msg to Self on behalf of a timer or a watch. When Self is a
// [BlockingRecipient] it waits for mailbox room until the connection stops.
func (pctx *PipelineContext) deliver(lostEvent string, msg any) {
	if pctx.ctx.Err() != nil {
		return
	}
	var err error
	if br, ok := pctx.self.(BlockingRecipient); ok {
		err = br.Send(pctx.ctx, msg)
	} else {
		err = pctx.self.Tell(msg, pctx.self)
	}
	if err != nil && pctx.ctx.Err() == nil {
		pctx.logger.Warn(
			lostEvent,
			slog.String("connKey", string(pctx.handle.Key())),
			slog.Any("err", err),
			slog.String("msgType", MessageName(msg)),
		)
	}
}

// actorID returns the owner of the handle or the empty string.
func (pctx *PipelineContext) actorID() ActorID {
	id, _ := pctx.handle.ActorID()
	return id
}
