// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"net"
	"time"
)

// Config holds common configuration for sockpipe components.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging and [ErrorClosed].
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// MailboxSize is the capacity of each [*ConnectionActor] mailbox.
	//
	// Set by [NewConfig] to 1024.
	MailboxSize int

	// Metrics receives connection-layer instrumentation.
	//
	// Set by [NewConfig] to [NopMetrics].
	Metrics Metrics

	// ReadBufferSize is the size of the buffer used by [*NetReactor] reads.
	//
	// Set by [NewConfig] to 16 KiB.
	ReadBufferSize int

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:         &net.Dialer{},
		ErrClassifier:  DefaultErrClassifier,
		MailboxSize:    1024,
		Metrics:        NopMetrics(),
		ReadBufferSize: 16 << 10,
		TimeNow:        time.Now,
	}
}
