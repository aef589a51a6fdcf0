package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	ncerr "falcon/internal/errors"
	"falcon/internal/metrics"
	"falcon/internal/pubsub"
	"falcon/internal/transport"
	"falcon/util"
)

// Registry holds at most one transport of each kind, keeps the two
// roles of a protocol mutually exclusive, fans sends out to whatever is
// alive and accounts for every byte in both directions.
//
// One Registry is built at start-up and handed to whatever needs
// transport access.
type Registry struct {
	logger *util.Logger
	dialer transport.Dialer

	mu        sync.Mutex
	tcpServer *transport.TCPServer
	tcpClient *transport.TCPClient
	udpServer *transport.UDPServer
	udpClient *transport.UDPClient

	subs pubsub.Bytes
	in   metrics.Counter
	out  metrics.Counter
	rate *metrics.RateMeter
}

// NewRegistry returns an empty registry.  clk drives the receive-rate
// meter; nil means wall time.
func NewRegistry(logger *util.Logger, clk clock.Clock) *Registry {
	r := &Registry{logger: logger, dialer: &transport.NetDialer{}}
	r.rate = metrics.NewRateMeter(&r.in, clk)
	return r
}

// SetDialer replaces the dialer used by clients initialised afterwards.
func (r *Registry) SetDialer(d transport.Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialer = d
}

// ── lifecycle ────────────────────────────────────────────────────────

// InitTCPServer starts a TCP server on addr.
func (r *Registry) InitTCPServer(ctx context.Context, addr string) (*transport.TCPServer, error) {
	if err := r.reserve(transport.KindTCPServer); err != nil {
		return nil, err
	}
	s := transport.NewTCPServer(addr, r.logger.Named("tcp-server"))
	s.Subscribe(r.deliver)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, r.install(s)
}

// InitTCPClient connects a TCP client to host:port.
func (r *Registry) InitTCPClient(ctx context.Context, host string, port int) (*transport.TCPClient, error) {
	if err := r.reserve(transport.KindTCPClient); err != nil {
		return nil, err
	}
	c := transport.NewTCPClient(r.currentDialer(), r.logger.Named("tcp-client"))
	c.Subscribe(r.deliver)
	if err := c.ConnectTo(ctx, host, port); err != nil {
		return nil, err
	}
	return c, r.install(c)
}

// InitUDPServer binds a UDP server on addr.
func (r *Registry) InitUDPServer(ctx context.Context, addr string) (*transport.UDPServer, error) {
	if err := r.reserve(transport.KindUDPServer); err != nil {
		return nil, err
	}
	s := transport.NewUDPServer(addr, r.logger.Named("udp-server"))
	s.Subscribe(r.deliver)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, r.install(s)
}

// InitUDPClient points a UDP client at host:port.  UDP always dials
// directly; the registry's dialer may route TCP only.
func (r *Registry) InitUDPClient(ctx context.Context, host string, port int) (*transport.UDPClient, error) {
	if err := r.reserve(transport.KindUDPClient); err != nil {
		return nil, err
	}
	c := transport.NewUDPClient(nil, r.logger.Named("udp-client"))
	c.Subscribe(r.deliver)
	if err := c.ConnectTo(ctx, host, port); err != nil {
		return nil, err
	}
	return c, r.install(c)
}

// reserve rejects an init while the same kind or the opposite role of
// the protocol is alive.
func (r *Registry) reserve(kind transport.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conflictLocked(kind)
}

func (r *Registry) conflictLocked(kind transport.Kind) error {
	if r.slotLocked(kind).Alive() {
		return fmt.Errorf("%s: %w", kind, ncerr.ErrAlreadyConnected)
	}
	if r.slotLocked(kind.Opposite()).Alive() {
		return fmt.Errorf("%s while %s is active: %w", kind, kind.Opposite(), ncerr.ErrRoleInUse)
	}
	return nil
}

// install stores a connected transport.  Connects run without the lock,
// so a competing init may have won in the meantime; the loser is closed.
func (r *Registry) install(t transport.Transport) error {
	r.mu.Lock()
	if err := r.conflictLocked(t.Kind()); err != nil {
		r.mu.Unlock()
		t.Close() //nolint:errcheck
		return err
	}
	old := r.slotLocked(t.Kind())
	switch v := t.(type) {
	case *transport.TCPServer:
		r.tcpServer = v
	case *transport.TCPClient:
		r.tcpClient = v
	case *transport.UDPServer:
		r.udpServer = v
	case *transport.UDPClient:
		r.udpClient = v
	}
	r.mu.Unlock()

	old.Close() //nolint:errcheck
	r.logger.Verbose("%s is active", t.Kind())
	return nil
}

// slotLocked returns the transport in kind's slot.  An empty slot yields
// a placeholder that is never alive.
func (r *Registry) slotLocked(kind transport.Kind) transport.Transport {
	switch kind {
	case transport.KindTCPServer:
		if r.tcpServer != nil {
			return r.tcpServer
		}
	case transport.KindTCPClient:
		if r.tcpClient != nil {
			return r.tcpClient
		}
	case transport.KindUDPServer:
		if r.udpServer != nil {
			return r.udpServer
		}
	case transport.KindUDPClient:
		if r.udpClient != nil {
			return r.udpClient
		}
	}
	return nilTransport{}
}

func (r *Registry) currentDialer() transport.Dialer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dialer
}

// Close closes the transport of one kind, if any.
func (r *Registry) Close(kind transport.Kind) error {
	r.mu.Lock()
	t := r.slotLocked(kind)
	r.mu.Unlock()
	return t.Close()
}

// CloseTCP closes both TCP roles.
func (r *Registry) CloseTCP() error {
	return multierr.Combine(r.Close(transport.KindTCPServer), r.Close(transport.KindTCPClient))
}

// CloseUDP closes both UDP roles.
func (r *Registry) CloseUDP() error {
	return multierr.Combine(r.Close(transport.KindUDPServer), r.Close(transport.KindUDPClient))
}

// CloseAll closes every transport and the dialer.
func (r *Registry) CloseAll() error {
	err := multierr.Combine(r.CloseTCP(), r.CloseUDP())
	if d := r.currentDialer(); d != nil {
		err = multierr.Append(err, d.Close())
	}
	return err
}

// ── queries ──────────────────────────────────────────────────────────

// IsActive reports whether a transport of kind is alive.
func (r *Registry) IsActive(kind transport.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slotLocked(kind).Alive()
}

// IsTCPServerActive reports whether the TCP server is alive.
func (r *Registry) IsTCPServerActive() bool { return r.IsActive(transport.KindTCPServer) }

// IsTCPClientActive reports whether the TCP client is alive.
func (r *Registry) IsTCPClientActive() bool { return r.IsActive(transport.KindTCPClient) }

// IsUDPServerActive reports whether the UDP server is alive.
func (r *Registry) IsUDPServerActive() bool { return r.IsActive(transport.KindUDPServer) }

// IsUDPClientActive reports whether the UDP client is alive.
func (r *Registry) IsUDPClientActive() bool { return r.IsActive(transport.KindUDPClient) }

// AnyActive reports whether any transport is alive.
func (r *Registry) AnyActive() bool {
	for _, k := range transport.Kinds {
		if r.IsActive(k) {
			return true
		}
	}
	return false
}

// TCPServer returns the TCP server slot, or nil.
func (r *Registry) TCPServer() *transport.TCPServer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tcpServer
}

// UDPServer returns the UDP server slot, or nil.
func (r *Registry) UDPServer() *transport.UDPServer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.udpServer
}

// ── data path ────────────────────────────────────────────────────────

// Subscribe registers h for bytes delivered by any transport.
func (r *Registry) Subscribe(h pubsub.ByteHandler) pubsub.Subscription {
	return r.subs.Subscribe(h)
}

// Unsubscribe removes one registration.
func (r *Registry) Unsubscribe(sub pubsub.Subscription) bool {
	return r.subs.Unsubscribe(sub)
}

func (r *Registry) deliver(p []byte) {
	r.in.Add(uint64(len(p)))
	r.subs.Publish(p)
}

// Send writes p to every alive transport and returns how many accepted
// it.  One failing transport does not keep p from the others.  The
// outbound counter grows by len(p) once per call that wrote p to at
// least one peer; a server with no peers accepts p without writing it.
func (r *Registry) Send(p []byte) (int, error) {
	r.mu.Lock()
	var active []transport.Transport
	for _, k := range transport.Kinds {
		if t := r.slotLocked(k); t.Alive() {
			active = append(active, t)
		}
	}
	r.mu.Unlock()

	if len(active) == 0 {
		return 0, ncerr.ErrNoTransport
	}

	var errs error
	sent, wrote := 0, false
	for _, t := range active {
		n, err := sendTo(t, p)
		if n > 0 {
			wrote = true
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", t.Kind(), err))
			continue
		}
		sent++
	}
	if wrote {
		r.out.Add(uint64(len(p)))
	}
	return sent, errs
}

// sendTo sends p through t and returns how many peers received it.
func sendTo(t transport.Transport, p []byte) (int, error) {
	if b, ok := t.(transport.Broadcaster); ok {
		return b.Broadcast(p)
	}
	if err := t.Send(p); err != nil {
		return 0, err
	}
	return 1, nil
}

// ── accounting ───────────────────────────────────────────────────────

// Inbound returns the inbound byte counter.
func (r *Registry) Inbound() *metrics.Counter { return &r.in }

// Outbound returns the outbound byte counter.
func (r *Registry) Outbound() *metrics.Counter { return &r.out }

// Rate returns the inbound rate meter.
func (r *Registry) Rate() *metrics.RateMeter { return r.rate }

// ResetCounters zeroes both byte counters and the rate snapshot.
func (r *Registry) ResetCounters() {
	r.in.Reset()
	r.out.Reset()
	r.rate.ResetSnapshot()
}

// BytesIn implements metrics.Source.
func (r *Registry) BytesIn() uint64 { return r.in.Raw() }

// BytesOut implements metrics.Source.
func (r *Registry) BytesOut() uint64 { return r.out.Raw() }

// ReceiveRate implements metrics.Source.
func (r *Registry) ReceiveRate() uint64 { return r.rate.Rate() }

// TCPAccepted implements metrics.Source.
func (r *Registry) TCPAccepted() uint64 { return r.TCPServer().Accepted() }

// ActiveKinds implements metrics.Source.
func (r *Registry) ActiveKinds() map[string]bool {
	out := make(map[string]bool, len(transport.Kinds))
	for _, k := range transport.Kinds {
		out[k.String()] = r.IsActive(k)
	}
	return out
}

// KindNames lists the transport kinds as metric label values.
func KindNames() []string {
	out := make([]string, len(transport.Kinds))
	for i, k := range transport.Kinds {
		out[i] = k.String()
	}
	return out
}

// nilTransport stands in for an empty slot.
type nilTransport struct{}

func (nilTransport) Kind() transport.Kind                             { return -1 }
func (nilTransport) Alive() bool                                      { return false }
func (nilTransport) Send([]byte) error                                { return ncerr.ErrNotAlive }
func (nilTransport) Close() error                                     { return nil }
func (nilTransport) Subscribe(pubsub.ByteHandler) pubsub.Subscription { return 0 }
func (nilTransport) Unsubscribe(pubsub.Subscription) bool             { return false }
