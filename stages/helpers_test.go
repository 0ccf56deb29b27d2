// SPDX-License-Identifier: GPL-3.0-or-later

package stages

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/sockpipe"
	"github.com/stretchr/testify/require"
)

// nopReactor accepts every request and does nothing.
type nopReactor struct{}

func (nopReactor) Write(sockpipe.Key, []byte, any) error           { return nil }
func (nopReactor) Close(sockpipe.Key, sockpipe.ClosedReason) error { return nil }
func (nopReactor) StopReading(sockpipe.Key) error                  { return nil }
func (nopReactor) ResumeReading(sockpipe.Key) error                { return nil }

// mailbox collects the messages told to a [sockpipe.Recipient].
type mailbox chan any

func (m mailbox) Tell(msg any, _ sockpipe.Recipient) error {
	m <- msg
	return nil
}

// Next returns the next message or fails the test after a timeout.
func (m mailbox) Next(t *testing.T) any {
	t.Helper()
	select {
	case msg := <-m:
		return msg
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for message")
		return nil
	}
}

// logSink collects log records.
type logSink struct {
	mu      sync.Mutex
	records []slog.Record
}

func (s *logSink) Records() []slog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]slog.Record(nil), s.records...)
}

func (s *logSink) Find(message string) (slog.Record, bool) {
	for _, rec := range s.Records() {
		if rec.Message == message {
			return rec, true
		}
	}
	return slog.Record{}, false
}

func attrValue(rec slog.Record, key string) (value slog.Value, found bool) {
	rec.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value, found = attr.Value, true
			return false
		}
		return true
	})
	return
}

// harness runs a stage between two recording sinks.
type harness struct {
	commander mailbox
	commands  []sockpipe.Command
	events    []sockpipe.Event
	handle    *sockpipe.Handle
	logs      *logSink
	pl        sockpipe.Pipelines
	self      mailbox
}

func newHarness(t *testing.T, stage sockpipe.Stage) *harness {
	t.Helper()
	h := &harness{
		commander: make(mailbox, 16),
		logs:      &logSink{},
		self:      make(mailbox, 16),
	}
	logger := slog.New(&slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			h.logs.mu.Lock()
			h.logs.records = append(h.logs.records, record)
			h.logs.mu.Unlock()
			return nil
		},
	})

	tagged, err := sockpipe.NewPendingHandle(sockpipe.NewKey(), nopReactor{}, h.commander).WithTag(nil)
	require.NoError(t, err)
	h.handle, err = tagged.Bind(sockpipe.NewActorID())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pctx := sockpipe.NewPipelineContext(ctx, sockpipe.NewConfig(), logger, h.handle, h.self)
	h.pl = sockpipe.BuildPipelines(pctx, stage,
		func(cmd sockpipe.Command) bool {
			h.commands = append(h.commands, cmd)
			return true
		},
		func(ev sockpipe.Event) bool {
			h.events = append(h.events, ev)
			return true
		},
	)
	return h
}
