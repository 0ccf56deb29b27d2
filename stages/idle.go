// SPDX-License-Identifier: GPL-3.0-or-later

package stages

import (
	"errors"
	"time"

	"github.com/bassosimone/sockpipe"
)

// ErrIdleTimeout is carried by the [sockpipe.ProtocolError] closing a
// connection that stayed silent for too long.
var ErrIdleTimeout = errors.New("stages: idle timeout")

// idleExpired is scheduled by [NewIdleTimeout]; generation discards
// timers that were superseded while their message was in flight.
type idleExpired struct {
	sockpipe.CustomEvent
	generation uint64
}

// NewIdleTimeout returns a [sockpipe.Stage] closing the connection with a
// [sockpipe.ProtocolError] wrapping [ErrIdleTimeout] when no
// [sockpipe.Received] event arrives within timeout.
//
// Place it at the socket-facing end so that it observes raw reads.
func NewIdleTimeout(timeout time.Duration) sockpipe.Stage {
	return idleTimeout{timeout: timeout}
}

type idleTimeout struct {
	timeout time.Duration
}

func (s idleTimeout) Build(pctx *sockpipe.PipelineContext,
	commandNext sockpipe.CommandPipeline, eventNext sockpipe.EventPipeline) sockpipe.Pipelines {
	var (
		generation uint64
		cancel     func() bool
		stopped    bool
	)
	arm := func() {
		if cancel != nil {
			cancel()
		}
		generation++
		cancel = pctx.ScheduleOnce(s.timeout, idleExpired{generation: generation})
	}
	arm()

	return sockpipe.Pipelines{
		Event: func(ev sockpipe.Event) {
			switch ev := ev.(type) {
			case idleExpired:
				if !stopped && ev.generation == generation {
					stopped = true
					commandNext(sockpipe.Close{Reason: sockpipe.ProtocolError{Err: ErrIdleTimeout}})
				}
			case sockpipe.Received:
				if !stopped {
					arm()
				}
				eventNext(ev)
			case sockpipe.Closed:
				stopped = true
				cancel()
				eventNext(ev)
			default:
				eventNext(ev)
			}
		},
	}
}
