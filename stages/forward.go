// SPDX-License-Identifier: GPL-3.0-or-later

package stages

import "github.com/bassosimone/sockpipe"

// ForwardEvents returns a [sockpipe.Stage] delivering the events for which
// match returns true to the connection's commander, through a
// [sockpipe.Deliver] command. Other events continue upward.
//
// Place it at the application-facing end of the pipeline.
func ForwardEvents(match func(ev sockpipe.Event) bool) sockpipe.Stage {
	return sockpipe.StageFuncs{
		OnEvent: func(pctx *sockpipe.PipelineContext, ev sockpipe.Event,
			commandNext sockpipe.CommandPipeline, eventNext sockpipe.EventPipeline) {
			if !match(ev) {
				eventNext(ev)
				return
			}
			commandNext(sockpipe.Deliver{
				Target:  pctx.Handle().Commander(),
				Message: ev,
			})
		},
	}
}
