// SPDX-License-Identifier: GPL-3.0-or-later

package stages

import (
	"log/slog"
	"testing"

	"github.com/bassosimone/sockpipe"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQuery(id uint16) *dns.Msg {
	query := new(dns.Msg)
	query.SetQuestion("dns.google.", dns.TypeA)
	query.Id = id
	return query
}

func TestDNSCodecExchange(t *testing.T) {
	h := newHarness(t, sockpipe.Compose(NewDNSCodec(), NewLengthPrefixFraming(0)))

	query := newQuery(0x1234)
	h.pl.Command(SendDNS{Msg: query})

	require.Len(t, h.commands, 1)
	send, ok := h.commands[0].(sockpipe.Send)
	require.True(t, ok)
	rawQuery, err := query.Pack()
	require.NoError(t, err)
	assert.Equal(t, rawQuery, send.Data[2:])

	resp := new(dns.Msg)
	resp.SetReply(query)
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "dns.google.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   []byte{8, 8, 8, 8},
	})
	rawResp, err := resp.Pack()
	require.NoError(t, err)
	framed := append([]byte{byte(len(rawResp) >> 8), byte(len(rawResp))}, rawResp...)
	h.pl.Event(sockpipe.Received{Data: framed})

	require.Len(t, h.events, 1)
	got, ok := h.events[0].(DNSReceived)
	require.True(t, ok)
	assert.Equal(t, uint16(0x1234), got.Msg.Id)
	require.Len(t, got.Msg.Answer, 1)
	assert.True(t, IsDNSReceived(got))

	rec, found := h.logs.Find("dnsResponse")
	require.True(t, found)
	value, found := attrValue(rec, "dnsRawQuery")
	require.True(t, found)
	assert.Equal(t, rawQuery, value.Any())
	value, found = attrValue(rec, "connKey")
	require.True(t, found)
	assert.Equal(t, string(h.handle.Key()), value.String())

	_, found = h.logs.Find("dnsQuery")
	assert.True(t, found)
}

func TestDNSCodecPackError(t *testing.T) {
	h := newHarness(t, NewDNSCodec())

	// A label longer than 63 bytes cannot be packed.
	query := new(dns.Msg)
	query.Question = []dns.Question{{
		Name:   "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.",
		Qtype:  dns.TypeA,
		Qclass: dns.ClassINET,
	}}
	h.pl.Command(SendDNS{Msg: query})

	assert.Empty(t, h.commands)
	require.Len(t, h.events, 1)
	failed, ok := h.events[0].(sockpipe.CommandFailed)
	require.True(t, ok)
	assert.Equal(t, SendDNS{Msg: query}, failed.Command)
	require.Error(t, failed.Err)
}

func TestDNSCodecUnpackError(t *testing.T) {
	h := newHarness(t, NewDNSCodec())

	h.pl.Event(FrameReceived{Payload: []byte{0x01}})

	assert.Empty(t, h.events)
	require.Len(t, h.commands, 1)
	closeCmd, ok := h.commands[0].(sockpipe.Close)
	require.True(t, ok)
	assert.IsType(t, sockpipe.ProtocolError{}, closeCmd.Reason)
}

func TestDNSCodecPassesOtherMessages(t *testing.T) {
	h := newHarness(t, NewDNSCodec())
	h.pl.Command(sockpipe.Close{})
	h.pl.Event(sockpipe.Ack{Token: 1})
	assert.Equal(t, []sockpipe.Command{sockpipe.Close{}}, h.commands)
	assert.Equal(t, []sockpipe.Event{sockpipe.Ack{Token: 1}}, h.events)
	assert.False(t, IsDNSReceived(sockpipe.Ack{}))
}

func TestDNSCodecForgetsPendingQueriesOnClosed(t *testing.T) {
	h := newHarness(t, NewDNSCodec())

	query := newQuery(0x0042)
	h.pl.Command(SendDNS{Msg: query})
	h.pl.Event(sockpipe.Closed{Reason: sockpipe.PeerClosed{}})

	resp := new(dns.Msg)
	resp.SetReply(query)
	rawResp, err := resp.Pack()
	require.NoError(t, err)
	h.pl.Event(FrameReceived{Payload: rawResp})

	rec, found := h.logs.Find("dnsResponse")
	require.True(t, found)
	value, found := attrValue(rec, "dnsRawQuery")
	require.True(t, found)
	assert.Nil(t, value.Any())
}

func TestDNSCodecQueryIDReused(t *testing.T) {
	h := newHarness(t, NewDNSCodec())

	first, second := newQuery(7), newQuery(7)
	second.SetQuestion("example.com.", dns.TypeAAAA)
	second.Id = 7
	h.pl.Command(SendDNS{Msg: first})
	h.pl.Command(SendDNS{Msg: second})

	rec, found := h.logs.Find("dnsQueryIDReused")
	require.True(t, found)
	assert.Equal(t, slog.LevelWarn, rec.Level)

	resp := new(dns.Msg)
	resp.SetReply(second)
	rawResp, err := resp.Pack()
	require.NoError(t, err)
	h.pl.Event(FrameReceived{Payload: rawResp})

	rawSecond, err := second.Pack()
	require.NoError(t, err)
	rec, found = h.logs.Find("dnsResponse")
	require.True(t, found)
	value, found := attrValue(rec, "dnsRawQuery")
	require.True(t, found)
	assert.Equal(t, rawSecond, value.Any())
}
