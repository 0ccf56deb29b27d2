// SPDX-License-Identifier: GPL-3.0-or-later

// Package stages contains reusable [sockpipe.Stage] implementations.
//
// Stages are listed application end first when passed to [sockpipe.Compose].
// A typical DNS-over-TCP pipeline is:
//
//	sockpipe.Compose(
//		stages.ForwardEvents(stages.IsDNSReceived),
//		stages.NewDNSCodec(),
//		stages.NewLengthPrefixFraming(0),
//		stages.NewIdleTimeout(30*time.Second),
//	)
package stages

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bassosimone/sockpipe"
)

// MaxFrameSize is the largest payload a two-byte length prefix can describe.
const MaxFrameSize = 1<<16 - 1

// ErrFrameTooLarge is carried by the [sockpipe.ProtocolError] closing a
// connection that sent or received an oversized frame.
var ErrFrameTooLarge = errors.New("stages: frame too large")

// WriteFrame asks [NewLengthPrefixFraming] to send Payload as one frame.
type WriteFrame struct {
	sockpipe.CustomCommand
	Payload []byte
	Ack     any
}

// FrameReceived carries the payload of one complete inbound frame.
type FrameReceived struct {
	sockpipe.CustomEvent
	Payload []byte
}

// NewLengthPrefixFraming returns a [sockpipe.Stage] implementing framing with
// a two-byte big-endian length prefix, as used by DNS over TCP.
//
// It turns [WriteFrame] into [sockpipe.Send] and reassembles
// [sockpipe.Received] bytes into [FrameReceived] events. A frame larger than
// maxFrameSize, in either direction, closes the connection with a
// [sockpipe.ProtocolError]. Zero or an out of range value means [MaxFrameSize].
func NewLengthPrefixFraming(maxFrameSize int) sockpipe.Stage {
	if maxFrameSize <= 0 || maxFrameSize > MaxFrameSize {
		maxFrameSize = MaxFrameSize
	}
	return &lengthPrefixFraming{maxFrameSize: maxFrameSize}
}

type lengthPrefixFraming struct {
	maxFrameSize int
}

func (s *lengthPrefixFraming) Build(pctx *sockpipe.PipelineContext,
	commandNext sockpipe.CommandPipeline, eventNext sockpipe.EventPipeline) sockpipe.Pipelines {
	var (
		buffer []byte
		failed bool
	)
	tooLarge := func(size int) {
		failed = true
		commandNext(sockpipe.Close{Reason: sockpipe.ProtocolError{
			Err: fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size),
		}})
	}
	return sockpipe.Pipelines{
		Command: func(cmd sockpipe.Command) {
			frame, ok := cmd.(WriteFrame)
			if !ok {
				commandNext(cmd)
				return
			}
			if len(frame.Payload) > s.maxFrameSize {
				tooLarge(len(frame.Payload))
				return
			}
			data := make([]byte, 2, 2+len(frame.Payload))
			binary.BigEndian.PutUint16(data, uint16(len(frame.Payload)))
			commandNext(sockpipe.Send{Data: append(data, frame.Payload...), Ack: frame.Ack})
		},

		Event: func(ev sockpipe.Event) {
			recv, ok := ev.(sockpipe.Received)
			if !ok {
				eventNext(ev)
				return
			}
			if failed {
				return
			}
			buffer = append(buffer, recv.Data...)
			for len(buffer) >= 2 {
				size := int(binary.BigEndian.Uint16(buffer))
				if size > s.maxFrameSize {
					buffer = nil
					tooLarge(size)
					return
				}
				if len(buffer) < 2+size {
					break
				}
				payload := make([]byte, size)
				copy(payload, buffer[2:])
				buffer = buffer[2+size:]
				eventNext(FrameReceived{Payload: payload})
			}
		},
	}
}
