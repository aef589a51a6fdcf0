package transport

import (
	"context"
	"net"
	"sync"

	"go.uber.org/multierr"

	ncerr "falcon/internal/errors"
	"falcon/internal/pubsub"
	"falcon/internal/session"
	"falcon/util"
)

// UDPServer binds a local port and accepts datagrams from any source.
// All senders are published as one undifferentiated channel; the server
// remembers every source address so Send can answer them.
type UDPServer struct {
	addr   string
	logger *util.Logger

	mu     sync.Mutex
	state  state
	conn   *net.UDPConn
	peers  []*net.UDPAddr
	known  map[string]struct{}
	doneCh chan struct{}

	subs     pubsub.Bytes
	newPeers pubsub.Counts
}

// NewUDPServer returns a server that will bind addr once Connect is called.
func NewUDPServer(addr string, logger *util.Logger) *UDPServer {
	return &UDPServer{addr: addr, logger: logger, known: make(map[string]struct{})}
}

// Kind implements Transport.
func (s *UDPServer) Kind() Kind { return KindUDPServer }

// Connect binds the local port and starts the receive chain.
func (s *UDPServer) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateConnected:
		return ncerr.ErrAlreadyConnected
	case stateClosed:
		return ncerr.ErrNotAlive
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return ncerr.Wrap("listen", s.addr, err)
	}

	s.conn = pc.(*net.UDPConn)
	s.state = stateConnected
	s.doneCh = make(chan struct{})
	s.logger.Verbose("listening on %s (udp)", s.conn.LocalAddr())

	go s.receiveLoop(s.conn, s.doneCh)
	return nil
}

// Addr returns the bound address, or nil before Connect.
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Alive reports whether the socket is bound and not closed.
func (s *UDPServer) Alive() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateConnected
}

// Done is closed when the receive chain ends.  Before Connect it is nil.
func (s *UDPServer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}

// Peers returns every source address seen so far, in order of first
// contact.
func (s *UDPServer) Peers() []*net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*net.UDPAddr(nil), s.peers...)
}

// Subscribe registers h for datagrams from any source.
func (s *UDPServer) Subscribe(h pubsub.ByteHandler) pubsub.Subscription {
	return s.subs.Subscribe(h)
}

// Unsubscribe removes one registration.
func (s *UDPServer) Unsubscribe(sub pubsub.Subscription) bool {
	return s.subs.Unsubscribe(sub)
}

// NotifyOnNewPeer registers h to be called with the cumulative peer count
// each time a datagram arrives from a previously unseen address.
func (s *UDPServer) NotifyOnNewPeer(h pubsub.CountHandler) pubsub.Subscription {
	return s.newPeers.Subscribe(h)
}

// UnnotifyOnNewPeer removes one peer-count registration.
func (s *UDPServer) UnnotifyOnNewPeer(sub pubsub.Subscription) bool {
	return s.newPeers.Unsubscribe(sub)
}

// Send writes p to every known peer.  Before anyone has written to the
// server there is nobody to answer and Send succeeds trivially.
func (s *UDPServer) Send(p []byte) error {
	_, err := s.Broadcast(p)
	return err
}

// Broadcast is Send that also reports how many peers p was written to.
func (s *UDPServer) Broadcast(p []byte) (int, error) {
	s.mu.Lock()
	if s.state != stateConnected {
		s.mu.Unlock()
		return 0, ncerr.ErrNotAlive
	}
	conn := s.conn
	peers := append([]*net.UDPAddr(nil), s.peers...)
	s.mu.Unlock()

	var errs error
	n := 0
	for _, peer := range peers {
		if _, err := conn.WriteToUDP(p, peer); err != nil {
			errs = multierr.Append(errs, ncerr.Wrap("write", peer.String(), err))
			continue
		}
		n++
	}
	return n, errs
}

// SendTo writes p to one address, known or not.
func (s *UDPServer) SendTo(p []byte, addr *net.UDPAddr) error {
	s.mu.Lock()
	conn := s.conn
	ok := s.state == stateConnected
	s.mu.Unlock()
	if !ok {
		return ncerr.ErrNotAlive
	}
	if _, err := conn.WriteToUDP(p, addr); err != nil {
		return ncerr.Wrap("write", addr.String(), err)
	}
	return nil
}

// Close releases the socket, ending the receive chain.  It is idempotent.
func (s *UDPServer) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.logger.Verbose("udp server on %s closed", s.addr)
	if err := conn.Close(); err != nil && !ncerr.IsClosed(err) {
		return err
	}
	return nil
}

func (s *UDPServer) receiveLoop(conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, session.BufSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if !s.Alive() {
			return
		}
		if err != nil {
			s.logger.Debug("udp receive ended: %v", err)
			return
		}

		s.track(from)
		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.subs.Publish(payload)
	}
}

func (s *UDPServer) track(from *net.UDPAddr) {
	key := from.String()

	s.mu.Lock()
	if _, seen := s.known[key]; seen {
		s.mu.Unlock()
		return
	}
	s.known[key] = struct{}{}
	s.peers = append(s.peers, from)
	count := uint64(len(s.peers))
	s.mu.Unlock()

	s.logger.Verbose("new udp peer #%d: %s", count, key)
	s.newPeers.Publish(count)
}
