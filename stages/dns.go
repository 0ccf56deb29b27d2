// SPDX-License-Identifier: GPL-3.0-or-later

package stages

import (
	"log/slog"
	"time"

	"github.com/bassosimone/sockpipe"
	"github.com/miekg/dns"
)

// SendDNS asks [NewDNSCodec] to serialize and send Msg.
type SendDNS struct {
	sockpipe.CustomCommand
	Msg *dns.Msg
}

// DNSReceived carries a parsed inbound DNS message.
type DNSReceived struct {
	sockpipe.CustomEvent
	Msg *dns.Msg
}

// IsDNSReceived reports whether ev is a [DNSReceived].
func IsDNSReceived(ev sockpipe.Event) bool {
	_, ok := ev.(DNSReceived)
	return ok
}

// NewDNSCodec returns a [sockpipe.Stage] converting between DNS messages and
// frames. Place it above [NewLengthPrefixFraming].
//
// [SendDNS] becomes [WriteFrame]; a message that cannot be packed comes back
// as [sockpipe.CommandFailed]. [FrameReceived] becomes [DNSReceived]; a frame
// that cannot be unpacked closes the connection with [sockpipe.ProtocolError].
//
// Each query and response is logged as dnsQuery and dnsResponse, with the raw
// query correlated to its response by message ID. Reusing the ID of a query
// still awaiting its response is logged as dnsQueryIDReused, and the newer
// query takes over the ID. Pending queries are forgotten on [sockpipe.Closed].
func NewDNSCodec() sockpipe.Stage {
	return dnsCodec{}
}

type dnsCodec struct{}

// inflightQuery is a query waiting for its response.
type inflightQuery struct {
	raw []byte
	t0  time.Time
}

func (dnsCodec) Build(pctx *sockpipe.PipelineContext,
	commandNext sockpipe.CommandPipeline, eventNext sockpipe.EventPipeline) sockpipe.Pipelines {
	inflight := make(map[uint16]inflightQuery)
	connKey := slog.String("connKey", string(pctx.Handle().Key()))

	return sockpipe.Pipelines{
		Command: func(cmd sockpipe.Command) {
			query, ok := cmd.(SendDNS)
			if !ok {
				commandNext(cmd)
				return
			}
			raw, err := query.Msg.Pack()
			if err != nil {
				eventNext(sockpipe.CommandFailed{Command: cmd, Err: err})
				return
			}
			t0 := pctx.TimeNow()
			if _, found := inflight[query.Msg.Id]; found {
				pctx.Logger().Warn(
					"dnsQueryIDReused",
					connKey,
					slog.Int("dnsQueryID", int(query.Msg.Id)),
					slog.Time("t", t0),
				)
			}
			inflight[query.Msg.Id] = inflightQuery{raw: raw, t0: t0}
			pctx.Logger().Info(
				"dnsQuery",
				connKey,
				slog.Any("dnsRawQuery", raw),
				slog.Time("t", t0),
			)
			commandNext(WriteFrame{Payload: raw})
		},

		Event: func(ev sockpipe.Event) {
			frame, ok := ev.(FrameReceived)
			if !ok {
				if _, closed := ev.(sockpipe.Closed); closed {
					clear(inflight)
				}
				eventNext(ev)
				return
			}
			msg := new(dns.Msg)
			if err := msg.Unpack(frame.Payload); err != nil {
				commandNext(sockpipe.Close{Reason: sockpipe.ProtocolError{Err: err}})
				return
			}
			query := inflight[msg.Id]
			delete(inflight, msg.Id)
			pctx.Logger().Info(
				"dnsResponse",
				connKey,
				slog.Any("dnsRawQuery", query.raw),
				slog.Any("dnsRawResponse", frame.Payload),
				slog.Time("t0", query.t0),
				slog.Time("t", pctx.TimeNow()),
			)
			eventNext(DNSReceived{Msg: msg})
		},
	}
}
