// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import (
	"context"
	"net"
	"net/netip"
)

// NewDialFunc returns a [Func] dialing endpoint over network, suitable
// for [*NetReactor.Connect].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDialFunc(cfg *Config, logger SLogger, network string, endpoint netip.AddrPort) Func[Unit, net.Conn] {
	return Chain2[Unit, netip.AddrPort, net.Conn](
		NewEndpointFunc(endpoint),
		NewConnectFunc(cfg, network, logger),
	)
}

// NewTLSDialFunc is like [NewDialFunc] but uses TCP and runs handshake
// before returning the connection. Use [NewTLSHandshakeFunc] to create it.
func NewTLSDialFunc(cfg *Config, logger SLogger, endpoint netip.AddrPort, handshake *TLSHandshakeFunc) Func[Unit, net.Conn] {
	return Chain3[Unit, netip.AddrPort, net.Conn, net.Conn](
		NewEndpointFunc(endpoint),
		NewConnectFunc(cfg, "tcp", logger),
		FuncAdapter[net.Conn, net.Conn](func(ctx context.Context, conn net.Conn) (net.Conn, error) {
			tconn, err := handshake.Call(ctx, conn)
			if err != nil {
				return nil, err
			}
			return tconn, nil
		}),
	)
}
