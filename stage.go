// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

// CommandPipeline consumes a [Command] travelling toward the socket.
type CommandPipeline func(cmd Command)

// EventPipeline consumes an [Event] travelling toward the application.
type EventPipeline func(ev Event)

// Pipelines is the pair of functions a [Stage] (or a whole pipeline) exposes:
// Command receives commands from the stage above, Event receives events from
// the stage below.
//
// A nil field means the stage forwards that direction unchanged.
type Pipelines struct {
	Command CommandPipeline
	Event   EventPipeline
}

// Stage is a unit of protocol logic participating in the bidirectional pipeline.
//
// Build is invoked once per connection, from the goroutine of the owning
// [*ConnectionActor], and returns the stage's handlers. Per-connection state
// lives in the closures created by Build: since dispatch within a connection
// is sequential, handlers never need locking.
//
// The commandNext function passes a command to the stage below (toward the
// socket); eventNext passes an event to the stage above (toward the
// application). A handler may call either, both, or neither: forwarding,
// transforming, replying in the opposite direction, or dropping a message.
// It may also use pctx for timers and watches. Build itself must not invoke
// commandNext or eventNext: the neighbouring stages may not exist yet.
type Stage interface {
	Build(pctx *PipelineContext, commandNext CommandPipeline, eventNext EventPipeline) Pipelines
}

// StageFuncs adapts a pair of stateless handlers to the [Stage] interface.
//
// A nil OnCommand (or OnEvent) forwards that direction unchanged.
type StageFuncs struct {
	// OnCommand handles a command coming from the stage above.
	OnCommand func(pctx *PipelineContext, cmd Command, commandNext CommandPipeline, eventNext EventPipeline)

	// OnEvent handles an event coming from the stage below.
	OnEvent func(pctx *PipelineContext, ev Event, commandNext CommandPipeline, eventNext EventPipeline)
}

var _ Stage = StageFuncs{}

// Build implements [Stage].
func (s StageFuncs) Build(pctx *PipelineContext, commandNext CommandPipeline, eventNext EventPipeline) Pipelines {
	var pl Pipelines
	if s.OnCommand != nil {
		pl.Command = func(cmd Command) {
			s.OnCommand(pctx, cmd, commandNext, eventNext)
		}
	}
	if s.OnEvent != nil {
		pl.Event = func(ev Event) {
			s.OnEvent(pctx, ev, commandNext, eventNext)
		}
	}
	return pl
}

// PassThrough returns a [Stage] that forwards every message unchanged.
func PassThrough() Stage {
	return StageFuncs{}
}
