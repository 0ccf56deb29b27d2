// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventTap consumes Received and Ack events by sending them to a channel.
func eventTap(events chan<- Event) Stage {
	return StageFuncs{
		OnEvent: func(pctx *PipelineContext, ev Event, commandNext CommandPipeline, eventNext EventPipeline) {
			switch ev.(type) {
			case Received, Ack:
				events <- ev
			default:
				eventNext(ev)
			}
		},
	}
}

type reactorFixture struct {
	commander *inbox
	events    chan Event
	reactor   *NetReactor
	system    *ConnectionSystem
}

func newReactorFixture(t *testing.T) *reactorFixture {
	t.Helper()
	cfg := NewConfig()
	events := make(chan Event, 64)
	system := NewConnectionSystem(cfg, DefaultSLogger(), eventTap(events))
	reactor := NewNetReactor(context.Background(), cfg, DefaultSLogger(), system)
	t.Cleanup(func() {
		reactor.Shutdown()
		system.Shutdown()
	})
	return &reactorFixture{
		commander: newInbox(),
		events:    events,
		reactor:   reactor,
		system:    system,
	}
}

func (f *reactorFixture) register(t *testing.T, conn net.Conn) (*Handle, *ConnectionActor) {
	t.Helper()
	handle, err := f.reactor.Register(conn, f.commander, "tag")
	require.NoError(t, err)
	actor, err := f.system.Lookup(handle)
	require.NoError(t, err)
	return handle, actor
}

func (f *reactorFixture) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-f.events:
		return ev
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for event")
		return nil
	}
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

// Bytes flow both ways and acked writes produce Ack events.
func TestNetReactorExchange(t *testing.T) {
	f := newReactorFixture(t)
	local, peer := net.Pipe()
	handle, actor := f.register(t, local)
	assert.Equal(t, "tag", handle.MustTag())
	assert.Equal(t, 1, f.reactor.Len())

	go func() { _, _ = peer.Write([]byte("hello")) }()
	assert.Equal(t, Received{Data: []byte("hello")}, f.nextEvent(t))

	require.NoError(t, actor.TellCommand(Send{Data: []byte("world"), Ack: 7}))
	assert.Equal(t, []byte("world"), readN(t, peer, 5))
	assert.Equal(t, Ack{Token: 7}, f.nextEvent(t))
}

// EOF from the peer ends the connection with PeerClosed.
func TestNetReactorPeerClosed(t *testing.T) {
	f := newReactorFixture(t)
	local, peer := net.Pipe()
	_, actor := f.register(t, local)

	require.NoError(t, peer.Close())

	assert.Equal(t, Closed{Reason: PeerClosed{}}, f.commander.Next(t))
	waitDone(t, actor.Done())
	eventually(t, func() bool { return f.reactor.Len() == 0 })
}

// A close request flushes pending writes, then reports the requested reason.
func TestNetReactorClose(t *testing.T) {
	f := newReactorFixture(t)
	local, peer := net.Pipe()
	handle, actor := f.register(t, local)

	require.NoError(t, actor.TellCommand(Send{Data: []byte("bye")}))
	require.NoError(t, actor.TellCommand(Close{}))

	assert.Equal(t, []byte("bye"), readN(t, peer, 3))
	_, err := peer.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)

	assert.Equal(t, Closed{Reason: ConfirmedClose{By: actor.ID().String()}}, f.commander.Next(t))
	waitDone(t, actor.Done())
	assert.True(t, f.commander.Empty())

	require.ErrorIs(t, f.reactor.Write(handle.Key(), []byte("x"), nil), ErrUnknownConnection)
}

// I/O errors end the connection with a classified ErrorClosed.
func TestNetReactorWriteError(t *testing.T) {
	f := newReactorFixture(t)
	conn := newScriptedConn()
	errWrite := errors.New("write failed")
	conn.WriteFunc = func(b []byte) (int, error) { return 0, errWrite }
	_, actor := f.register(t, conn)

	require.NoError(t, actor.TellCommand(Send{Data: []byte("x")}))

	closed, ok := f.commander.Next(t).(Closed)
	require.True(t, ok)
	reason, ok := closed.Reason.(ErrorClosed)
	require.True(t, ok)
	require.ErrorIs(t, reason.Err, errWrite)
	assert.Equal(t, DefaultErrClassifier.Classify(errWrite), reason.Class)
	waitDone(t, actor.Done())
	assert.Equal(t, int64(1), conn.closes.Load())
}

// StopReading suspends reads after the one in flight; ResumeReading restarts them.
func TestNetReactorFlowControl(t *testing.T) {
	f := newReactorFixture(t)
	conn := newScriptedConn()
	_, actor := f.register(t, conn)
	eventually(t, func() bool { return conn.reads.Load() == 1 })

	require.NoError(t, actor.TellCommand(StopReading{}))
	eventually(t, func() bool { return f.paused() })

	conn.data <- []byte("a")
	assert.Equal(t, Received{Data: []byte("a")}, f.nextEvent(t))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), conn.reads.Load())

	require.NoError(t, actor.TellCommand(ResumeReading{}))
	eventually(t, func() bool { return conn.reads.Load() == 2 })
	conn.data <- []byte("b")
	assert.Equal(t, Received{Data: []byte("b")}, f.nextEvent(t))
}

// paused reports whether the reactor suspended reads on any socket.
func (f *reactorFixture) paused() bool {
	f.reactor.mu.Lock()
	defer f.reactor.mu.Unlock()
	for _, nc := range f.reactor.conns {
		nc.mu.Lock()
		paused := nc.paused
		nc.mu.Unlock()
		if paused {
			return true
		}
	}
	return false
}

// Shutdown closes every socket and the reactor refuses new ones.
func TestNetReactorShutdown(t *testing.T) {
	f := newReactorFixture(t)
	local, peer := net.Pipe()
	defer peer.Close()
	_, actor := f.register(t, local)

	f.reactor.Shutdown()

	closed, ok := f.commander.Next(t).(Closed)
	require.True(t, ok)
	assert.IsType(t, ErrorClosed{}, closed.Reason)
	waitDone(t, actor.Done())
	assert.Equal(t, 0, f.reactor.Len())

	other, _ := net.Pipe()
	_, err := f.reactor.Register(other, f.commander, nil)
	require.ErrorIs(t, err, ErrReactorClosed)
	require.ErrorIs(t, f.reactor.StopReading(NewKey()), ErrReactorClosed)
}

// A forced actor stop releases the socket through the reactor.
func TestNetReactorActorStop(t *testing.T) {
	f := newReactorFixture(t)
	local, peer := net.Pipe()
	_, actor := f.register(t, local)

	actor.Stop()
	waitDone(t, actor.Done())

	_, err := peer.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
	eventually(t, func() bool { return f.reactor.Len() == 0 })
}

// Connect dials and registers the resulting connection.
func TestNetReactorConnect(t *testing.T) {
	f := newReactorFixture(t)
	local, peer := net.Pipe()
	defer peer.Close()

	handle, err := f.reactor.Connect(context.Background(), ConstFunc[net.Conn](local), f.commander, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, handle.Key())

	errDial := errors.New("dial failed")
	failing := FuncAdapter[Unit, net.Conn](func(context.Context, Unit) (net.Conn, error) {
		return nil, errDial
	})
	_, err = f.reactor.Connect(context.Background(), failing, f.commander, nil)
	require.ErrorIs(t, err, errDial)
}

// Operations on unknown keys fail.
func TestNetReactorUnknownKey(t *testing.T) {
	f := newReactorFixture(t)
	key := NewKey()

	require.ErrorIs(t, f.reactor.Write(key, nil, nil), ErrUnknownConnection)
	require.ErrorIs(t, f.reactor.Close(key, nil), ErrUnknownConnection)
	require.ErrorIs(t, f.reactor.StopReading(key), ErrUnknownConnection)
	require.ErrorIs(t, f.reactor.ResumeReading(key), ErrUnknownConnection)
}

// scriptedConn is a conn whose reads are fed through data.
type scriptedConn struct {
	*netstub.FuncConn
	data   chan []byte
	done   chan struct{}
	once   sync.Once
	reads  atomic.Int64
	closes atomic.Int64
}

func newScriptedConn() *scriptedConn {
	c := &scriptedConn{
		FuncConn: newMinimalConn(),
		data:     make(chan []byte),
		done:     make(chan struct{}),
	}
	c.ReadFunc = func(b []byte) (int, error) {
		c.reads.Add(1)
		select {
		case chunk := <-c.data:
			return copy(b, chunk), nil
		case <-c.done:
			return 0, net.ErrClosed
		}
	}
	c.WriteFunc = func(b []byte) (int, error) { return len(b), nil }
	c.CloseFunc = func() error {
		c.closes.Add(1)
		c.once.Do(func() { close(c.done) })
		return nil
	}
	return c
}

// Shutdown does not wait for an actor that stopped draining its mailbox.
func TestNetReactorShutdownStalledActor(t *testing.T) {
	cfg := NewConfig()
	cfg.MailboxSize = 1
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	stalling := StageFuncs{
		OnEvent: func(pctx *PipelineContext, ev Event, commandNext CommandPipeline, eventNext EventPipeline) {
			if _, ok := ev.(Received); ok {
				select {
				case entered <- struct{}{}:
				default:
				}
				<-gate
				return
			}
			eventNext(ev)
		},
	}
	system := NewConnectionSystem(cfg, DefaultSLogger(), stalling)
	defer system.Shutdown()
	defer close(gate)
	reactor := NewNetReactor(context.Background(), cfg, DefaultSLogger(), system)

	conn := newScriptedConn()
	_, err := reactor.Register(conn, nil, nil)
	require.NoError(t, err)

	conn.data <- []byte("a") // dispatched, the stage stalls
	waitDone(t, entered)
	conn.data <- []byte("b") // fills the mailbox
	conn.data <- []byte("c") // the reader blocks delivering it

	done := make(chan struct{})
	go func() {
		reactor.Shutdown()
		close(done)
	}()
	waitDone(t, done)
	assert.Equal(t, 0, reactor.Len())
	waitDone(t, conn.done)
}
