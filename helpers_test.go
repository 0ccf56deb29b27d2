// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
	"github.com/stretchr/testify/require"
)

// recordSink collects log records emitted from any goroutine.
type recordSink struct {
	mu      sync.Mutex
	records []slog.Record
}

// Records returns a copy of the captured records.
func (s *recordSink) Records() []slog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]slog.Record(nil), s.records...)
}

// Messages returns the message of each captured record, in order.
func (s *recordSink) Messages() []string {
	var out []string
	for _, rec := range s.Records() {
		out = append(out, rec.Message)
	}
	return out
}

// Count returns how many records carry the given message.
func (s *recordSink) Count(message string) int {
	var count int
	for _, rec := range s.Records() {
		if rec.Message == message {
			count++
		}
	}
	return count
}

// newCapturingLogger returns a logger that captures all log records into the
// returned sink, which is safe to inspect while goroutines keep logging.
func newCapturingLogger() (*slog.Logger, *recordSink) {
	sink := &recordSink{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			sink.mu.Lock()
			sink.records = append(sink.records, record)
			sink.mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), sink
}

// recordAttr returns the value of the attribute named key.
func recordAttr(rec slog.Record, key string) (value slog.Value, found bool) {
	rec.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value, found = attr.Value, true
			return false
		}
		return true
	})
	return
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] that wraps the given
// [TLSConn]. The engine's ClientFunc returns the conn, NameFunc returns
// "mock", and ParrotFunc returns "".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// reactorCall is one call received by [*fakeReactor].
type reactorCall struct {
	Op     string
	Key    Key
	Data   []byte
	Ack    any
	Reason ClosedReason
}

// fakeReactor records every call it receives. Fail, when set, decides
// the error returned for a given operation.
type fakeReactor struct {
	Fail func(op string) error

	mu    sync.Mutex
	calls []reactorCall
}

var _ Reactor = &fakeReactor{}

func (r *fakeReactor) record(call reactorCall) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail(call.Op)
	}
	return nil
}

func (r *fakeReactor) Write(key Key, data []byte, ack any) error {
	return r.record(reactorCall{Op: "write", Key: key, Data: data, Ack: ack})
}

func (r *fakeReactor) Close(key Key, reason ClosedReason) error {
	return r.record(reactorCall{Op: "close", Key: key, Reason: reason})
}

func (r *fakeReactor) StopReading(key Key) error {
	return r.record(reactorCall{Op: "stopReading", Key: key})
}

func (r *fakeReactor) ResumeReading(key Key) error {
	return r.record(reactorCall{Op: "resumeReading", Key: key})
}

// Calls returns a copy of the recorded calls.
func (r *fakeReactor) Calls() []reactorCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reactorCall(nil), r.calls...)
}

// Ops returns the operation name of each recorded call.
func (r *fakeReactor) Ops() []string {
	var out []string
	for _, c := range r.Calls() {
		out = append(out, c.Op)
	}
	return out
}

// inbox is a [Recipient] collecting every message it is told.
type inbox struct {
	messages chan any
}

var _ Recipient = &inbox{}

func newInbox() *inbox {
	return &inbox{messages: make(chan any, 128)}
}

func (i *inbox) Tell(msg any, _ Recipient) error {
	select {
	case i.messages <- msg:
		return nil
	default:
		return fmt.Errorf("inbox full")
	}
}

// Next returns the next message or fails the test after a timeout.
func (i *inbox) Next(t *testing.T) any {
	t.Helper()
	select {
	case msg := <-i.messages:
		return msg
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for message")
		return nil
	}
}

// Empty reports whether no message arrived within a short interval.
func (i *inbox) Empty() bool {
	select {
	case <-i.messages:
		return false
	case <-time.After(50 * time.Millisecond):
		return true
	}
}

// waitDone fails the test unless ch is closed before a timeout.
func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for termination")
	}
}
