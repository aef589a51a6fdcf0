package core

import (
	"context"
	"time"

	ncerr "falcon/internal/errors"
	"falcon/internal/retry"
	"falcon/internal/transport"
	"falcon/util"
)

// Endpoint describes one transport to open: a local port for servers,
// a remote host and port for clients.
type Endpoint struct {
	Kind  transport.Kind
	Host  string // bind host for servers, remote host for clients
	Port  int
	NoDNS bool
	// Retries is the number of connect attempts for clients.  Values
	// below 2 mean a single attempt.
	Retries int
}

func (e Endpoint) String() string {
	return e.Kind.String() + " " + util.FormatAddr(e.Host, e.Port)
}

// Open initialises the endpoint in reg and hooks peer notifications up
// to logger.
func (e Endpoint) Open(ctx context.Context, reg *Registry, logger *util.Logger) error {
	addr, err := util.ResolveAddr(e.Host, e.Port, e.NoDNS)
	if err != nil {
		return err
	}

	switch e.Kind {
	case transport.KindTCPServer:
		s, err := reg.InitTCPServer(ctx, addr)
		if err != nil {
			return err
		}
		s.NotifyOnNewClient(func(n uint64) {
			logger.Info("tcp client #%d connected (%d live)", n, s.Clients())
		})
		logger.Info("tcp server listening on %s", s.Addr())

	case transport.KindUDPServer:
		s, err := reg.InitUDPServer(ctx, addr)
		if err != nil {
			return err
		}
		s.NotifyOnNewPeer(func(n uint64) {
			logger.Info("udp peer #%d seen", n)
		})
		logger.Info("udp server listening on %s", s.Addr())

	case transport.KindTCPClient, transport.KindUDPClient:
		if err := e.connect(ctx, reg, logger); err != nil {
			return err
		}
		logger.Info("%s connected to %s", e.Kind, addr)
	}
	return nil
}

func (e Endpoint) connect(ctx context.Context, reg *Registry, logger *util.Logger) error {
	b := retry.DefaultBackoff(e.Retries)
	b.Retryable = ncerr.IsRetryable
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("%s attempt %d failed: %v; retrying in %v", e.Kind, attempt, err, wait.Round(time.Millisecond))
	}
	if e.Retries < 2 {
		b.MaxAttempts = 1
	}

	return b.Do(ctx, func(int) error {
		var err error
		if e.Kind == transport.KindTCPClient {
			_, err = reg.InitTCPClient(ctx, e.Host, e.Port)
		} else {
			_, err = reg.InitUDPClient(ctx, e.Host, e.Port)
		}
		if ncerr.Is(err, ncerr.ErrRoleInUse) || ncerr.Is(err, ncerr.ErrAlreadyConnected) {
			return retry.Permanent(err)
		}
		return err
	})
}
