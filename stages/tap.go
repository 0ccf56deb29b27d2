// SPDX-License-Identifier: GPL-3.0-or-later

package stages

import (
	"log/slog"

	"github.com/bassosimone/sockpipe"
)

// NewTap returns a [sockpipe.Stage] that logs every message crossing it, at
// debug level, as commandTap or eventTap, and forwards it unchanged.
//
// The name argument distinguishes several taps within the same pipeline.
func NewTap(name string) sockpipe.Stage {
	return sockpipe.StageFuncs{
		OnCommand: func(pctx *sockpipe.PipelineContext, cmd sockpipe.Command,
			commandNext sockpipe.CommandPipeline, eventNext sockpipe.EventPipeline) {
			logTap(pctx, "commandTap", name, cmd)
			commandNext(cmd)
		},
		OnEvent: func(pctx *sockpipe.PipelineContext, ev sockpipe.Event,
			commandNext sockpipe.CommandPipeline, eventNext sockpipe.EventPipeline) {
			logTap(pctx, "eventTap", name, ev)
			eventNext(ev)
		},
	}
}

func logTap(pctx *sockpipe.PipelineContext, event, name string, msg any) {
	pctx.Logger().Debug(
		event,
		slog.String("connKey", string(pctx.Handle().Key())),
		slog.String("msgType", sockpipe.MessageName(msg)),
		slog.String("tap", name),
		slog.Time("t", pctx.TimeNow()),
	)
}
