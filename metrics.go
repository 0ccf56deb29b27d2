// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

// Direction is the direction a message travels through a pipeline.
type Direction string

const (
	// DirectionCommand is the application-to-socket direction.
	DirectionCommand Direction = "command"

	// DirectionEvent is the socket-to-application direction.
	DirectionEvent Direction = "event"
)

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	ObserveDuration()
}

// Metrics instruments the connection layer. All methods must be safe
// for concurrent use. The prometheus sub-package provides an implementation.
type Metrics interface {
	// Lifecycle
	ConnectionOpened()
	ConnectionClosed(reason string)

	// Dispatch
	DispatchDuration(dir Direction) Timer
	MessageDispatched(dir Direction, msgType string)
	MessageDropped(dir Direction, msgType string)

	// Supervision
	ConnectionFault()

	// Mailbox
	MailboxDepth(depth int)
}

// nopMetrics is a no-op implementation of [Metrics].
type nopMetrics struct{}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

func (nopMetrics) ConnectionOpened()                   {}
func (nopMetrics) ConnectionClosed(string)             {}
func (nopMetrics) DispatchDuration(Direction) Timer    { return nopTimer{} }
func (nopMetrics) MessageDispatched(Direction, string) {}
func (nopMetrics) MessageDropped(Direction, string)    {}
func (nopMetrics) ConnectionFault()                    {}
func (nopMetrics) MailboxDepth(int)                    {}

// NopMetrics returns a [Metrics] implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
