package transport

import (
	"context"
	"net"
	"sync"

	ncerr "falcon/internal/errors"
	"falcon/internal/pubsub"
	"falcon/internal/session"
	"falcon/util"
)

// client holds what TCPClient and UDPClient share: one outbound socket
// wrapped in a single Session.  The client's own subscriber list is
// registered on the session so handlers added before or after connect
// both see every chunk.
type client struct {
	kind    Kind
	framing session.Framing
	dialer  Dialer
	logger  *util.Logger

	mu    sync.Mutex
	state state
	sess  *session.Session

	subs pubsub.Bytes
}

func (c *client) init(kind Kind, framing session.Framing, dialer Dialer, logger *util.Logger) {
	if dialer == nil {
		dialer = &NetDialer{}
	}
	c.kind, c.framing, c.dialer, c.logger = kind, framing, dialer, logger
}

// Kind implements Transport.
func (c *client) Kind() Kind { return c.kind }

// ConnectTo dials host:port and starts the receive loop.  A failed dial
// leaves the client reusable; a client closed while the dial was in
// flight discards the new socket.
func (c *client) ConnectTo(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	switch c.state {
	case stateConnecting, stateConnected:
		c.mu.Unlock()
		return ncerr.ErrAlreadyConnected
	case stateClosed:
		c.mu.Unlock()
		return ncerr.ErrNotAlive
	}
	c.state = stateConnecting
	c.mu.Unlock()

	addr := util.FormatAddr(host, port)
	conn, err := c.dialer.Dial(ctx, c.kind.Network(), addr)
	if err != nil {
		c.mu.Lock()
		if c.state == stateConnecting {
			c.state = stateIdle
		}
		c.mu.Unlock()
		return ncerr.Wrap("dial", addr, err)
	}

	sess := session.New(conn, c.framing, c.logger)
	sess.Subscribe(c.subs.Publish)

	c.mu.Lock()
	if c.state != stateConnecting {
		c.mu.Unlock()
		conn.Close()
		return ncerr.ErrNotAlive
	}
	c.sess = sess
	c.state = stateConnected
	c.mu.Unlock()

	c.logger.Verbose("connected to %s (%s)", conn.RemoteAddr(), c.kind)
	sess.Start()
	return nil
}

// Alive reports whether the client is connected and its session is
// still running.  A nil client is not alive.
func (c *client) Alive() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected && c.sess.Alive()
}

// Done is closed when the session's receive loop ends.  Before connect
// it returns nil.
func (c *client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.Done()
}

// LocalAddr returns the local socket address, or nil before connect.
func (c *client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.LocalAddr()
}

// Send writes p to the connected peer.
func (c *client) Send(p []byte) error {
	c.mu.Lock()
	sess := c.sess
	ok := c.state == stateConnected
	c.mu.Unlock()
	if !ok {
		return ncerr.ErrNotAlive
	}
	return sess.Send(p)
}

// Subscribe registers h for bytes received from the peer.
func (c *client) Subscribe(h pubsub.ByteHandler) pubsub.Subscription {
	return c.subs.Subscribe(h)
}

// Unsubscribe removes one registration.
func (c *client) Unsubscribe(sub pubsub.Subscription) bool {
	return c.subs.Unsubscribe(sub)
}

// Close ends the session and releases the socket.  It is idempotent.
func (c *client) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	c.logger.Verbose("%s closed", c.kind)
	if err := sess.Close(); err != nil && !ncerr.IsClosed(err) {
		return err
	}
	return nil
}

// Kill is Close.
func (c *client) Kill() error { return c.Close() }

// TCPClient connects to one TCP server.
type TCPClient struct {
	client
}

// NewTCPClient returns an unconnected TCP client that dials through d.
// A nil dialer dials directly.
func NewTCPClient(d Dialer, logger *util.Logger) *TCPClient {
	c := &TCPClient{}
	c.init(KindTCPClient, session.Stream, d, logger)
	return c
}

// Alive is nil-safe on the outer pointer too.
func (c *TCPClient) Alive() bool {
	if c == nil {
		return false
	}
	return c.client.Alive()
}

// UDPClient sends datagrams to one fixed peer and receives its replies.
// Datagram sockets are connectionless, so connecting to a port nobody
// listens on still succeeds.
type UDPClient struct {
	client
}

// NewUDPClient returns an unconnected UDP client.
func NewUDPClient(d Dialer, logger *util.Logger) *UDPClient {
	c := &UDPClient{}
	c.init(KindUDPClient, session.Datagram, d, logger)
	return c
}

// Alive is nil-safe on the outer pointer too.
func (c *UDPClient) Alive() bool {
	if c == nil {
		return false
	}
	return c.client.Alive()
}
