// Package transport implements the four protocol/role combinations
// falcon can speak: TCP server, TCP client, UDP server and UDP client.
//
// Every transport exposes the same publish/subscribe contract regardless
// of what is underneath: inbound bytes go to registered handlers, Send
// writes outbound bytes, and Close tears everything down.  Connect-time
// failures come back as errors; mid-session I/O failures end the receive
// chain silently.
package transport

import (
	"context"
	"net"
	"time"

	"falcon/internal/pubsub"
)

// Kind names a protocol/role combination.
type Kind int

const (
	KindTCPServer Kind = iota
	KindTCPClient
	KindUDPServer
	KindUDPClient
)

// Kinds lists every transport kind in registry order.
var Kinds = []Kind{KindTCPServer, KindTCPClient, KindUDPServer, KindUDPClient} //nolint:gochecknoglobals

func (k Kind) String() string {
	switch k {
	case KindTCPServer:
		return "tcp-server"
	case KindTCPClient:
		return "tcp-client"
	case KindUDPServer:
		return "udp-server"
	case KindUDPClient:
		return "udp-client"
	default:
		return "unknown"
	}
}

// Network returns "tcp" or "udp".
func (k Kind) Network() string {
	if k == KindUDPServer || k == KindUDPClient {
		return "udp"
	}
	return "tcp"
}

// Opposite returns the other role of the same protocol.
func (k Kind) Opposite() Kind {
	switch k {
	case KindTCPServer:
		return KindTCPClient
	case KindTCPClient:
		return KindTCPServer
	case KindUDPServer:
		return KindUDPClient
	default:
		return KindUDPServer
	}
}

// Transport is the contract shared by all four kinds.
type Transport interface {
	Kind() Kind
	// Alive reports whether the transport is connected and not closed.
	Alive() bool
	// Send writes p to every peer the transport currently reaches.
	Send(p []byte) error
	// Close releases every socket.  It is idempotent.
	Close() error
	Subscribe(h pubsub.ByteHandler) pubsub.Subscription
	Unsubscribe(sub pubsub.Subscription) bool
}

// Broadcaster is implemented by servers, which may have no peer to send
// to.  Broadcast reports how many peers p was written to.
type Broadcaster interface {
	Broadcast(p []byte) (int, error)
}

// state is the transport lifecycle: idle → connected → closed.  A
// client additionally passes through connecting while a dial is in
// flight, and falls back to idle when the dial fails.
type state int

const (
	stateIdle state = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Dialer opens outbound network connections.  Implementations include a
// plain dialer and an SSH-tunnelled one that routes TCP through a gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)
	// Close releases any long-lived resources held by the dialer (e.g.
	// an SSH session).  Stateless dialers return nil.
	Close() error
}

// NetDialer dials directly with net.Dialer.  For UDP the result is a
// connected socket whose unqualified writes go to one fixed peer.
type NetDialer struct {
	Timeout time.Duration
}

// Dial connects to address over network.
func (d *NetDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless dialers.
func (d *NetDialer) Close() error { return nil }
