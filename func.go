// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"context"
	"net/netip"
)

// Func is a generic operation that accepts an input and returns a result.
//
// Funcs describe how a socket comes into existence before a [Reactor] takes
// ownership of it: dialing, observing, TLS handshaking. They are chained with
// [Chain2] and [Chain3] and handed to [*NetReactor.Connect].
//
// Resource cleanup contract: when a Func receives a closeable resource as input
// and returns an error, it is responsible for closing that resource before returning.
// This ensures that chained Funcs do not leak sockets on partial failure.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}

// Unit is a type not containing any value (analogous to an
// explicit `void` type in C and C++).
type Unit struct{}

// Chain2 runs op1 and feeds its output to op2. If op1 fails,
// op2 is not called and the error is returned immediately.
func Chain2[A, B, C any](op1 Func[A, B], op2 Func[B, C]) Func[A, C] {
	return &chain2[A, B, C]{op1, op2}
}

type chain2[A, B, C any] struct {
	op1 Func[A, B]
	op2 Func[B, C]
}

func (c *chain2[A, B, C]) Call(ctx context.Context, input A) (C, error) {
	res, err := c.op1.Call(ctx, input)
	if err != nil {
		var zero C
		return zero, err
	}
	return c.op2.Call(ctx, res)
}

// Chain3 chains three [Func] instances together.
func Chain3[A, B, C, D any](op1 Func[A, B], op2 Func[B, C], op3 Func[C, D]) Func[A, D] {
	return Chain2(op1, Chain2(op2, op3))
}

// ConstFunc returns a [Func] that ignores its input and always returns value.
func ConstFunc[B any](value B) Func[Unit, B] {
	return FuncAdapter[Unit, B](func(context.Context, Unit) (B, error) {
		return value, nil
	})
}

// NewEndpointFunc returns a [Func] that always returns the given [netip.AddrPort].
func NewEndpointFunc(endpoint netip.AddrPort) Func[Unit, netip.AddrPort] {
	return ConstFunc(endpoint)
}
