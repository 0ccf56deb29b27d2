// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import "log/slog"

// Compose chains stages into a single [Stage].
//
// The first stage is the application-facing end and the last one is the
// socket-facing end: commands traverse the stages first to last, events
// traverse them last to first. With no arguments Compose returns [PassThrough].
func Compose(stages ...Stage) Stage {
	switch len(stages) {
	case 0:
		return PassThrough()
	case 1:
		return stages[0]
	default:
		return Compose2(stages[0], Compose(stages[1:]...))
	}
}

// Compose2 chains two stages: above is closer to the application, below is
// closer to the socket.
//
// Commands leaving above enter below; events leaving below enter above.
func Compose2(above, below Stage) Stage {
	return &compose2{above, below}
}

type compose2 struct {
	above Stage
	below Stage
}

func (c *compose2) Build(pctx *PipelineContext, commandNext CommandPipeline, eventNext EventPipeline) Pipelines {
	// The two stages reference each other, so each one gets a trampoline
	// that is resolved after both have been built.
	var upper, lower Pipelines
	toLower := func(cmd Command) { lower.Command(cmd) }
	toUpper := func(ev Event) { upper.Event(ev) }
	upper = normalize(c.above.Build(pctx, toLower, eventNext), toLower, eventNext)
	lower = normalize(c.below.Build(pctx, commandNext, toUpper), commandNext, toUpper)
	return Pipelines{Command: upper.Command, Event: lower.Event}
}

// normalize replaces the nil sides of pl with pass-through functions.
func normalize(pl Pipelines, commandNext CommandPipeline, eventNext EventPipeline) Pipelines {
	if pl.Command == nil {
		pl.Command = commandNext
	}
	if pl.Event == nil {
		pl.Event = eventNext
	}
	return pl
}

// CommandSink is the socket-facing end of a pipeline. It returns
// whether it consumed the command.
type CommandSink func(cmd Command) bool

// EventSink is the application-facing end of a pipeline. It returns
// whether it consumed the event.
type EventSink func(ev Event) bool

// BuildPipelines compiles stage into two total dispatch functions.
//
// The commandSink receives the commands that leave the socket-facing end of
// stage, and the eventSink receives the events that leave its
// application-facing end. A message that reaches a nil sink, or that the sink
// does not consume, is logged as messageDropped at warning level, unless the
// message is [Droppable], in which case it is silently ignored.
//
// Unmatched messages are never fatal.
func BuildPipelines(pctx *PipelineContext, stage Stage, commandSink CommandSink, eventSink EventSink) Pipelines {
	commandEnd := func(cmd Command) {
		if commandSink == nil || !commandSink(cmd) {
			pctx.unmatched(DirectionCommand, cmd)
		}
	}
	eventEnd := func(ev Event) {
		if eventSink == nil || !eventSink(ev) {
			pctx.unmatched(DirectionEvent, ev)
		}
	}
	return normalize(stage.Build(pctx, commandEnd, eventEnd), commandEnd, eventEnd)
}

// unmatched handles a message that no stage and no sink consumed.
func (pctx *PipelineContext) unmatched(dir Direction, msg any) {
	if isDroppable(msg) {
		return
	}
	name := MessageName(msg)
	pctx.metrics.MessageDropped(dir, name)
	pctx.logger.Warn(
		"messageDropped",
		slog.String("actorID", string(pctx.actorID())),
		slog.String("connKey", string(pctx.handle.Key())),
		slog.String("direction", string(dir)),
		slog.String("msgType", name),
		slog.Time("t", pctx.timeNow()),
	)
}
