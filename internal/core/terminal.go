package core

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ncerr "falcon/internal/errors"
	"falcon/internal/metrics"
	"falcon/internal/session"
	"falcon/util"
)

// TerminalMode opens the configured endpoints, prints everything they
// receive and forwards stdin to every active transport.
//
// It ends when ctx is cancelled, when stdin reaches EOF (unless
// KeepOpen), or when a rate tick finds no transport alive.
type TerminalMode struct {
	Registry  *Registry
	Endpoints []Endpoint

	Stdin  io.Reader // nil: nothing to forward
	Stdout io.Writer

	Hex          bool
	KeepOpen     bool
	RateInterval time.Duration
	MetricsAddr  string

	Logger *util.Logger

	outMu sync.Mutex
}

// Run implements Mode.
func (m *TerminalMode) Run(ctx context.Context) error {
	reg := m.Registry
	defer func() {
		if err := reg.CloseAll(); err != nil {
			m.Logger.Debug("close: %v", err)
		}
		m.Logger.Verbose("received %s, sent %s", reg.Inbound().Format(), reg.Outbound().Format())
	}()

	sub := reg.Subscribe(m.print)
	defer reg.Unsubscribe(sub)

	for _, ep := range m.Endpoints {
		if err := ep.Open(ctx, reg, m.Logger); err != nil {
			return err
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	interval := m.RateInterval
	if interval <= 0 {
		interval = time.Second
	}
	g.Go(func() error {
		err := reg.Rate().Run(gctx, interval, func(uint64) {
			m.Logger.Verbose("rx %s (%s)  tx %s",
				reg.Inbound().Format(), reg.Rate().FormatRate(), reg.Outbound().Format())
			if !reg.AnyActive() {
				m.Logger.Info("all transports closed")
				stop()
			}
		})
		return ignoreCanceled(err)
	})

	if m.MetricsAddr != "" {
		ln, err := net.Listen("tcp", m.MetricsAddr)
		if err != nil {
			stop()
			g.Wait() //nolint:errcheck
			return ncerr.Wrap("listen", m.MetricsAddr, err)
		}
		m.Logger.Info("metrics on http://%s/metrics", ln.Addr())
		g.Go(func() error { return m.serveMetrics(gctx, ln) })
	}

	if m.Stdin != nil {
		// Not in the group: a blocked Read cannot be interrupted, and
		// Wait must not hang on it.
		go m.pumpStdin(runCtx, stop)
	}

	return g.Wait()
}

func (m *TerminalMode) serveMetrics(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.NewCollector(m.Registry, KindNames()).Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutCtx) //nolint:errcheck
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *TerminalMode) pumpStdin(ctx context.Context, stop context.CancelFunc) {
	buf := make([]byte, session.BufSize)
	for {
		n, err := m.Stdin.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			if _, serr := m.Registry.Send(payload); serr != nil {
				m.Logger.Verbose("send: %v", serr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.Logger.Warn("stdin: %v", err)
			}
			if !m.KeepOpen {
				m.Logger.Verbose("stdin closed")
				stop()
			}
			return
		}
	}
}

func (m *TerminalMode) print(p []byte) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	if m.Stdout == nil {
		return
	}
	if m.Hex {
		io.WriteString(m.Stdout, hex.Dump(p)) //nolint:errcheck
		return
	}
	m.Stdout.Write(p) //nolint:errcheck
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
