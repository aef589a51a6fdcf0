package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	ncerr "falcon/internal/errors"
	"falcon/internal/pubsub"
	"falcon/internal/session"
	"falcon/util"
)

const maxAcceptDelay = time.Second

// TCPServer listens on one address and keeps a Session per accepted
// peer.  Inbound bytes from every peer are republished, undifferentiated,
// to the server's own subscribers; Send fans out to every live peer.
type TCPServer struct {
	addr   string
	logger *util.Logger

	mu       sync.Mutex
	state    state
	ln       net.Listener
	sessions []*session.Session
	accepted uint64

	subs    pubsub.Bytes
	clients pubsub.Counts
}

// NewTCPServer returns a server that will listen on addr (":port" for
// every interface) once Connect is called.
func NewTCPServer(addr string, logger *util.Logger) *TCPServer {
	return &TCPServer{addr: addr, logger: logger}
}

// Kind implements Transport.
func (s *TCPServer) Kind() Kind { return KindTCPServer }

// Connect binds, starts listening, resets the accepted-count and begins
// accepting peers in the background.
func (s *TCPServer) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateConnected:
		return ncerr.ErrAlreadyConnected
	case stateClosed:
		return ncerr.ErrNotAlive
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return ncerr.Wrap("listen", s.addr, err)
	}

	s.ln = ln
	s.accepted = 0
	s.state = stateConnected
	s.logger.Verbose("listening on %s (tcp)", ln.Addr())

	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener address, or nil before Connect.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Alive reports whether the server is listening.  A nil server is not.
func (s *TCPServer) Alive() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateConnected
}

// Accepted returns how many peers were ever accepted since Connect.  It
// does not go down when a peer disconnects; see Clients for that.
func (s *TCPServer) Accepted() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Clients returns the number of currently live sessions.
func (s *TCPServer) Clients() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Alive() {
			n++
		}
	}
	return n
}

// Subscribe registers h for bytes from any connected peer.
func (s *TCPServer) Subscribe(h pubsub.ByteHandler) pubsub.Subscription {
	return s.subs.Subscribe(h)
}

// Unsubscribe removes one byte-handler registration.
func (s *TCPServer) Unsubscribe(sub pubsub.Subscription) bool {
	return s.subs.Unsubscribe(sub)
}

// NotifyOnNewClient registers h to be called once per accepted peer with
// the cumulative accepted-count.
func (s *TCPServer) NotifyOnNewClient(h pubsub.CountHandler) pubsub.Subscription {
	return s.clients.Subscribe(h)
}

// UnnotifyOnNewClient removes one client-count registration.
func (s *TCPServer) UnnotifyOnNewClient(sub pubsub.Subscription) bool {
	return s.clients.Unsubscribe(sub)
}

// Send writes p to every live session in accept order.  A failing peer
// does not stop delivery to the others; the failures are returned
// together.  With no peers connected Send succeeds trivially.
func (s *TCPServer) Send(p []byte) error {
	_, err := s.Broadcast(p)
	return err
}

// Broadcast is Send that also reports how many peers p was written to.
func (s *TCPServer) Broadcast(p []byte) (int, error) {
	s.mu.Lock()
	if s.state != stateConnected {
		s.mu.Unlock()
		return 0, ncerr.ErrNotAlive
	}
	live := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Alive() {
			live = append(live, sess)
		}
	}
	s.sessions = live
	s.mu.Unlock()

	var errs error
	n := 0
	for _, sess := range live {
		if err := sess.Send(p); err != nil {
			s.logger.Verbose("send to %s failed: %v", sess.RemoteAddr(), err)
			errs = multierr.Append(errs, fmt.Errorf("peer %s: %w", sess.RemoteAddr(), err))
			continue
		}
		n++
	}
	return n, errs
}

// Close stops accepting, force-closes every session and releases the
// listener.  Calling it again is a no-op.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	sessions := s.sessions
	s.sessions = nil
	ln := s.ln
	s.mu.Unlock()

	var errs error
	if ln != nil {
		if err := ln.Close(); err != nil && !ncerr.IsClosed(err) {
			errs = multierr.Append(errs, err)
		}
	}
	for _, sess := range sessions {
		if err := sess.Close(); err != nil && !ncerr.IsClosed(err) {
			errs = multierr.Append(errs, err)
		}
	}
	s.logger.Verbose("tcp server on %s closed (%d sessions)", s.addr, len(sessions))
	return errs
}

func (s *TCPServer) acceptLoop(ln net.Listener) {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.Alive() || ncerr.IsClosed(err) {
				return
			}
			if ncerr.IsTemporary(err) {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else if delay *= 2; delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				s.logger.Warn("accept on %s: %v; retrying in %v", ln.Addr(), err, delay)
				time.Sleep(delay)
				continue
			}
			s.logger.Error("accept on %s: %v; closing server", ln.Addr(), err)
			s.Close() //nolint:errcheck
			return
		}
		delay = 0
		s.admit(conn)
	}
}

// admit registers a freshly accepted connection.  A completion that
// lands after Close is dropped without creating a session.
func (s *TCPServer) admit(conn net.Conn) {
	sess := session.New(conn, session.Stream, s.logger)
	sess.Subscribe(s.subs.Publish)

	s.mu.Lock()
	if s.state != stateConnected {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions = append(s.sessions, sess)
	s.accepted++
	count := s.accepted
	s.mu.Unlock()

	s.logger.Verbose("client #%d connected from %s", count, conn.RemoteAddr())
	sess.Start()
	s.clients.Publish(count)
}
