// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import "context"

// Recipient is an address accepting asynchronous messages.
//
// Tell must not block on the recipient's processing. A non-nil error
// means the message was not accepted (e.g., the recipient has stopped).
//
// Commanders, [Deliver] targets and [*ConnectionActor] are Recipients.
type Recipient interface {
	Tell(msg any, sender Recipient) error
}

// RecipientFunc adapts a function to the [Recipient] interface.
type RecipientFunc func(msg any, sender Recipient) error

var _ Recipient = RecipientFunc(nil)

// Tell implements [Recipient].
func (f RecipientFunc) Tell(msg any, sender Recipient) error {
	return f(msg, sender)
}

// BlockingRecipient is a [Recipient] that can also wait for room to accept
// a message. [*ConnectionActor] implements it.
type BlockingRecipient interface {
	Recipient

	// Send enqueues msg, blocking until it is accepted, the recipient
	// stops, or ctx is done.
	Send(ctx context.Context, msg any) error
}

// Watchable is an external entity whose termination can be observed
// through [*PipelineContext.Watch].
type Watchable interface {
	// WatchID identifies the entity in [WatchedEntityTerminated].
	WatchID() string

	// Done is closed when the entity terminates.
	Done() <-chan struct{}
}

// NoSender is the nil [Recipient], used when a message has no meaningful sender.
var NoSender Recipient
