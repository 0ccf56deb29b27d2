// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"context"
	"log/slog"
	"net"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
//
// The logger argument is the [SLogger] to use for structured logging.
func NewCancelWatchFunc(logger SLogger) *CancelWatchFunc {
	return &CancelWatchFunc{Logger: logger}
}

// CancelWatchFunc binds the lifetime of a connection to a context: when the
// context is done the connection is closed, which makes any blocked I/O
// fail immediately.
//
// The [*NetReactor] uses it to tie every socket to its own lifetime, so
// cancelling the reactor context unblocks all reader and writer goroutines.
//
// Closing the returned connection unregisters the watcher, so no goroutine
// outlives the connection even if the context is never cancelled.
//
// All fields are safe to modify after construction but before first use.
type CancelWatchFunc struct {
	// Key is the connection key logged when the watcher fires.
	Key Key

	// Logger is the [SLogger] to use.
	//
	// Set by [NewCancelWatchFunc] to the user-provided logger.
	Logger SLogger
}

var _ Func[net.Conn, net.Conn] = &CancelWatchFunc{}

// Call registers the watcher using [context.AfterFunc]. It never fails.
func (op *CancelWatchFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		op.Logger.Debug(
			"cancelWatchFired",
			slog.String("connKey", string(op.Key)),
			slog.Any("err", context.Cause(ctx)),
		)
		conn.Close()
	})
	return &cancelWatchedConn{Conn: conn, stop: stop}, nil
}

type cancelWatchedConn struct {
	net.Conn
	stop func() bool
}

// Close unregisters the context watcher and closes the underlying connection.
func (c *cancelWatchedConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
