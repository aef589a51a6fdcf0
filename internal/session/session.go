// Package session represents one live peer connection: a socket, its
// receive loop, and the subscribers that loop publishes to.
//
// A Session is owned by the transport that created it but its lifecycle
// is independent once started.  A stream session dies when a read fails
// (peer closed, socket torn down, any I/O fault) or when Close is called,
// whichever happens first, and it never comes back.  A datagram session
// only stops receiving on a read failure: an unreachable peer does not
// make the socket unusable for sending, so only Close kills it.
package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	ncerr "falcon/internal/errors"
	"falcon/internal/pubsub"
	"falcon/util"
)

// BufSize is the receive buffer size.  It bounds the largest chunk a
// single callback can carry; longer messages arrive in several chunks.
const BufSize = 1024

// Framing selects how a zero-length read is interpreted.
type Framing int

const (
	// Stream sockets (TCP) report orderly shutdown as a zero-length read.
	Stream Framing = iota
	// Datagram sockets (UDP) can legitimately carry empty payloads.
	Datagram
)

func (f Framing) String() string {
	if f == Datagram {
		return "datagram"
	}
	return "stream"
}

// Session wraps one connection with a receive loop and subscriber list.
type Session struct {
	id      string
	conn    net.Conn
	framing Framing
	logger  *util.Logger
	subs    pubsub.Bytes
	buf     []byte

	alive     atomic.Bool
	started   atomic.Bool
	closeOnce sync.Once
	writeMu   sync.Mutex
	done      chan struct{}
}

// New wraps conn.  The receive loop does not run until Start.
func New(conn net.Conn, framing Framing, logger *util.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		id:      id,
		conn:    conn,
		framing: framing,
		logger:  logger.Named("session-" + id[:8]),
		buf:     make([]byte, BufSize),
		done:    make(chan struct{}),
	}
	s.alive.Store(true)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr returns the local socket address.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Alive reports whether the session can still send and receive.
func (s *Session) Alive() bool { return s.alive.Load() }

// Done is closed once the receive loop has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe registers h for every subsequent inbound chunk.
func (s *Session) Subscribe(h pubsub.ByteHandler) pubsub.Subscription {
	return s.subs.Subscribe(h)
}

// Unsubscribe removes one registration.  Unknown tokens are ignored.
func (s *Session) Unsubscribe(sub pubsub.Subscription) bool {
	return s.subs.Unsubscribe(sub)
}

// Start launches the receive loop and returns immediately.  Calling it
// again, or after Close, does nothing.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Debug("receive loop started (%s, peer %s)", s.framing, s.conn.RemoteAddr())
	go s.receiveLoop()
}

// Send writes p to the socket.  A dead session returns ErrNotAlive
// without touching the socket.  A failed write on a stream socket means
// the connection is gone, so the session closes itself.
func (s *Session) Send(p []byte) error {
	if !s.Alive() {
		return ncerr.ErrNotAlive
	}
	s.writeMu.Lock()
	_, err := s.conn.Write(p)
	s.writeMu.Unlock()
	if err == nil {
		return nil
	}
	if s.framing == Stream {
		s.Close() //nolint:errcheck
	}
	if !s.Alive() || (s.framing == Stream && ncerr.IsClosed(err)) {
		return fmt.Errorf("%w: %v", ncerr.ErrNotAlive, err)
	}
	return ncerr.Wrap("write", s.conn.RemoteAddr().String(), err)
}

// Close marks the session dead and releases the socket.  It is safe to
// call repeatedly and while a read is in flight; the pending read fails
// and its result is discarded.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		err = s.conn.Close()
		// Never started: nothing else will close done.
		if s.started.CompareAndSwap(false, true) {
			close(s.done)
		}
	})
	return err
}

func (s *Session) receiveLoop() {
	defer close(s.done)
	if s.framing == Stream {
		defer s.Close() //nolint:errcheck
	}

	for {
		n, err := s.conn.Read(s.buf)
		if !s.Alive() {
			return
		}

		if n > 0 || (err == nil && s.framing == Datagram) {
			payload := make([]byte, n)
			copy(payload, s.buf[:n])
			s.subs.Publish(payload)
		}

		switch {
		case err != nil:
			if ncerr.IsClosed(err) {
				s.logger.Debug("peer %s gone: %v", s.conn.RemoteAddr(), err)
			} else {
				s.logger.Verbose("receive from %s failed: %v", s.conn.RemoteAddr(), err)
			}
			return
		case n == 0 && s.framing == Stream:
			s.logger.Debug("peer %s shut down", s.conn.RemoteAddr())
			return
		}
	}
}
