// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// ErrReactorClosed is returned when using a [*NetReactor] after [*NetReactor.Shutdown].
var ErrReactorClosed = errors.New("sockpipe: reactor closed")

// NetReactor is a [Reactor] owning [net.Conn] sockets.
//
// Each registered socket gets a reader goroutine, emitting [Received] events,
// and a writer goroutine draining a FIFO queue of writes and close requests,
// emitting [Ack] events. Requests never block the caller. Every socket ends
// with exactly one [Closed] event:
//
//   - EOF yields [PeerClosed];
//   - other I/O errors yield [ErrorClosed];
//   - a close request yields the requested reason once pending writes are flushed.
//
// Events are delivered to the owning actor through the [*ConnectionSystem].
type NetReactor struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
	logger SLogger
	system *ConnectionSystem

	mu    sync.Mutex
	conns map[Key]*netConn
	wg    sync.WaitGroup
}

var _ Reactor = &NetReactor{}

// NewNetReactor returns a new [*NetReactor].
//
// The ctx argument bounds the lifetime of every socket: when it is done all
// sockets are closed, just like calling [*NetReactor.Shutdown].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
//
// The system argument creates the handle and actor of each socket.
func NewNetReactor(ctx context.Context, cfg *Config, logger SLogger, system *ConnectionSystem) *NetReactor {
	runtimex.Assert(system != nil)
	ctx, cancel := context.WithCancel(ctx)
	return &NetReactor{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		system: system,
		conns:  make(map[Key]*netConn),
	}
}

// Connect runs dial and registers the resulting connection.
func (r *NetReactor) Connect(ctx context.Context, dial Func[Unit, net.Conn], commander Recipient, rawTag any) (*Handle, error) {
	conn, err := dial.Call(ctx, Unit{})
	if err != nil {
		return nil, err
	}
	return r.Register(conn, commander, rawTag)
}

// Register takes ownership of conn and creates its handle and actor.
//
// On failure conn is closed.
func (r *NetReactor) Register(conn net.Conn, commander Recipient, rawTag any) (*Handle, error) {
	if r.ctx.Err() != nil {
		conn.Close()
		return nil, ErrReactorClosed
	}

	key := NewKey()
	watch := NewCancelWatchFunc(r.logger)
	watch.Key = key
	observe := NewObserveConnFunc(r.cfg, r.logger)
	observe.Key = key
	wrapped := runtimex.PanicOnError1(Chain2[net.Conn, net.Conn, net.Conn](watch, observe).Call(r.ctx, conn))

	nc := &netConn{
		conn:    wrapped,
		key:     key,
		reactor: r,
	}
	nc.cond = sync.NewCond(&nc.mu)

	r.mu.Lock()
	r.conns[key] = nc
	r.mu.Unlock()

	handle, err := r.system.CreateConnectionHandle(key, r, commander, rawTag)
	if err != nil {
		r.forget(key)
		wrapped.Close()
		return nil, err
	}
	nc.handle = handle

	r.logger.Info(
		"connectionRegistered",
		slog.String("actorID", string(handle.actorID)),
		slog.String("connKey", string(key)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", r.cfg.TimeNow()),
	)

	nc.mu.Lock()
	nc.unwatch = context.AfterFunc(r.ctx, func() {
		nc.mu.Lock()
		nc.cond.Broadcast()
		nc.mu.Unlock()
	})
	nc.mu.Unlock()

	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		nc.finish(nc.errorClosed(context.Cause(r.ctx)))
		return handle, nil
	}
	r.wg.Add(2)
	r.mu.Unlock()
	go nc.readLoop()
	go nc.writeLoop()
	return handle, nil
}

// Write implements [Reactor].
func (r *NetReactor) Write(key Key, data []byte, ack any) error {
	nc, err := r.lookup(key)
	if err != nil {
		return err
	}
	return nc.enqueue(netOp{data: data, ack: ack})
}

// Close implements [Reactor]. The socket is closed after pending writes.
func (r *NetReactor) Close(key Key, reason ClosedReason) error {
	nc, err := r.lookup(key)
	if err != nil {
		return err
	}
	return nc.enqueue(netOp{close: true, reason: reason})
}

// StopReading implements [Reactor].
func (r *NetReactor) StopReading(key Key) error {
	nc, err := r.lookup(key)
	if err != nil {
		return err
	}
	nc.setPaused(true)
	return nil
}

// ResumeReading implements [Reactor].
func (r *NetReactor) ResumeReading(key Key) error {
	nc, err := r.lookup(key)
	if err != nil {
		return err
	}
	nc.setPaused(false)
	return nil
}

// Len returns the number of open sockets.
func (r *NetReactor) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Shutdown closes every socket and waits for the I/O goroutines to exit.
//
// It does not wait for actors: events that a stalled actor has no mailbox
// room for, including the final [Closed], are dropped and logged as eventLost.
func (r *NetReactor) Shutdown() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *NetReactor) lookup(key Key) (*netConn, error) {
	if r.ctx.Err() != nil {
		return nil, ErrReactorClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	nc, found := r.conns[key]
	if !found {
		return nil, ErrUnknownConnection
	}
	return nc, nil
}

func (r *NetReactor) forget(key Key) {
	r.mu.Lock()
	delete(r.conns, key)
	r.mu.Unlock()
}

// netOp is an entry of the write queue.
type netOp struct {
	data   []byte
	ack    any
	close  bool
	reason ClosedReason
}

// netConn is the reactor state of one socket.
type netConn struct {
	conn    net.Conn
	handle  *Handle
	key     Key
	reactor *NetReactor

	// mu protects the fields below; cond signals changes to them.
	mu       sync.Mutex
	cond     *sync.Cond
	closing  bool
	finished bool
	paused   bool
	queue    []netOp
	unwatch  func() bool

	// emitMu serializes events so that nothing follows Closed.
	emitMu     sync.Mutex
	closedSent bool
}

func (nc *netConn) enqueue(op netOp) error {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.closing || nc.finished {
		return net.ErrClosed
	}
	nc.closing = op.close
	nc.queue = append(nc.queue, op)
	nc.cond.Broadcast()
	return nil
}

func (nc *netConn) setPaused(paused bool) {
	nc.mu.Lock()
	nc.paused = paused
	nc.cond.Broadcast()
	nc.mu.Unlock()
}

func (nc *netConn) readLoop() {
	defer nc.reactor.wg.Done()
	buffer := make([]byte, max(nc.reactor.cfg.ReadBufferSize, 1))
	for {
		nc.mu.Lock()
		for nc.paused && !nc.finished && nc.reactor.ctx.Err() == nil {
			nc.cond.Wait()
		}
		finished := nc.finished
		nc.mu.Unlock()
		if finished {
			return
		}
		if nc.reactor.ctx.Err() != nil {
			nc.finish(nc.errorClosed(context.Cause(nc.reactor.ctx)))
			return
		}

		count, err := nc.conn.Read(buffer)
		if count > 0 {
			nc.emit(Received{Data: append([]byte(nil), buffer[:count]...)})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				nc.finish(PeerClosed{})
				return
			}
			nc.finish(nc.errorClosed(err))
			return
		}
	}
}

func (nc *netConn) writeLoop() {
	defer nc.reactor.wg.Done()
	for {
		nc.mu.Lock()
		for len(nc.queue) <= 0 && !nc.finished && nc.reactor.ctx.Err() == nil {
			nc.cond.Wait()
		}
		if nc.finished || nc.reactor.ctx.Err() != nil {
			nc.mu.Unlock()
			return
		}
		op := nc.queue[0]
		nc.queue = nc.queue[1:]
		nc.mu.Unlock()

		if op.close {
			nc.finish(op.reason)
			return
		}
		if _, err := nc.conn.Write(op.data); err != nil {
			nc.finish(nc.errorClosed(err))
			return
		}
		if op.ack != nil {
			nc.emit(Ack{Token: op.ack})
		}
	}
}

func (nc *netConn) errorClosed(err error) ErrorClosed {
	return ErrorClosed{Class: nc.reactor.cfg.ErrClassifier.Classify(err), Err: err}
}

// finish closes the socket and emits Closed. Only the first call has effect.
func (nc *netConn) finish(reason ClosedReason) {
	nc.mu.Lock()
	if nc.finished {
		nc.mu.Unlock()
		return
	}
	nc.finished = true
	nc.queue = nil
	unwatch := nc.unwatch
	nc.cond.Broadcast()
	nc.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}

	nc.conn.Close()
	nc.reactor.forget(nc.key)
	nc.emit(Closed{Reason: reason})
}

// emit delivers ev to the owning actor, blocking while its mailbox is full.
// Once the reactor is shut down, an event that does not fit is dropped.
func (nc *netConn) emit(ev Event) {
	nc.emitMu.Lock()
	defer nc.emitMu.Unlock()
	if nc.closedSent {
		return
	}
	if _, ok := ev.(Closed); ok {
		nc.closedSent = true
	}
	if err := nc.reactor.system.Dispatch(nc.reactor.ctx, nc.handle, ev); err != nil {
		nc.reactor.logger.Debug(
			"eventLost",
			slog.String("connKey", string(nc.key)),
			slog.Any("err", err),
			slog.String("msgType", MessageName(ev)),
		)
	}
}
