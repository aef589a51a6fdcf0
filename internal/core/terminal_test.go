package core

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"falcon/internal/transport"
	"falcon/util"
)

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func serverMode(t *testing.T, out io.Writer) (*TerminalMode, int) {
	t.Helper()
	port, err := util.FindFreePort()
	require.NoError(t, err)
	logger := util.NewLogger(0)
	return &TerminalMode{
		Registry:     NewRegistry(logger, nil),
		Endpoints:    []Endpoint{{Kind: transport.KindTCPServer, Host: "127.0.0.1", Port: port}},
		Stdout:       out,
		RateInterval: 20 * time.Millisecond,
		Logger:       logger,
	}, port
}

func runAsync(ctx context.Context, m *TerminalMode) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
		return nil
	}
}

func dialWhenUp(t *testing.T, port int) net.Conn {
	t.Helper()
	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", util.FormatAddr("127.0.0.1", port))
		if err != nil {
			return false
		}
		conn = c
		return true
	}, waitFor, tick)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestTerminal_PrintsReceived(t *testing.T) {
	var out lockedBuffer
	m, port := serverMode(t, &out)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, m)

	peer := dialWhenUp(t, port)
	_, err := peer.Write([]byte("hello"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return out.String() == "hello" }, waitFor, tick)

	cancel()
	require.NoError(t, waitRun(t, done))
	assert.False(t, m.Registry.AnyActive(), "transports closed on exit")
}

func TestTerminal_HexDump(t *testing.T) {
	var out lockedBuffer
	m, port := serverMode(t, &out)
	m.Hex = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, m)

	peer := dialWhenUp(t, port)
	_, err := peer.Write([]byte("hello"))
	require.NoError(t, err)

	want := hex.Dump([]byte("hello"))
	require.Eventually(t, func() bool { return out.String() == want }, waitFor, tick)

	cancel()
	require.NoError(t, waitRun(t, done))
}

func TestTerminal_ForwardsStdin(t *testing.T) {
	m, port := serverMode(t, io.Discard)
	pr, pw := io.Pipe()
	m.Stdin = pr
	done := runAsync(context.Background(), m)

	peer := dialWhenUp(t, port)
	require.Eventually(t, func() bool { return m.Registry.TCPServer().Clients() == 1 }, waitFor, tick)

	_, err := pw.Write([]byte("abc"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(waitFor)))
	n, err := peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	require.NoError(t, pw.Close())
	require.NoError(t, waitRun(t, done), "stdin EOF ends the run")
	assert.Equal(t, uint64(3), m.Registry.Outbound().Raw())
}

func TestTerminal_KeepOpenOutlivesStdin(t *testing.T) {
	m, _ := serverMode(t, io.Discard)
	m.Stdin = strings.NewReader("")
	m.KeepOpen = true
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, m)

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.NoError(t, waitRun(t, done))
}

func TestTerminal_EndsWhenTransportsDie(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	logger := util.NewLogger(0)
	m := &TerminalMode{
		Registry: NewRegistry(logger, nil),
		Endpoints: []Endpoint{{
			Kind: transport.KindTCPClient, Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port,
		}},
		Stdout:       io.Discard,
		RateInterval: 20 * time.Millisecond,
		Logger:       logger,
	}
	require.NoError(t, waitRun(t, runAsync(context.Background(), m)))
}

func TestTerminal_OpenFailure(t *testing.T) {
	logger := util.NewLogger(0)
	m := &TerminalMode{
		Registry:  NewRegistry(logger, nil),
		Endpoints: []Endpoint{{Kind: transport.KindTCPClient, Host: "not-an-ip", Port: 1, NoDNS: true}},
		Logger:    logger,
	}
	assert.Error(t, m.Run(context.Background()))
}

func TestTerminal_MetricsEndpoint(t *testing.T) {
	metricsPort, err := util.FindFreePort()
	require.NoError(t, err)

	m, port := serverMode(t, io.Discard)
	m.MetricsAddr = util.FormatAddr("127.0.0.1", metricsPort)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, m)

	peer := dialWhenUp(t, port)
	_, err = peer.Write([]byte("12345"))
	require.NoError(t, err)

	url := "http://" + m.MetricsAddr + "/metrics"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK &&
			strings.Contains(string(body), "falcon_bytes_in_total 5") &&
			strings.Contains(string(body), `falcon_transports_active{kind="tcp-server"} 1`)
	}, waitFor, tick)

	cancel()
	require.NoError(t, waitRun(t, done))
}

func TestTerminal_MetricsListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	m, _ := serverMode(t, io.Discard)
	m.MetricsAddr = busy.Addr().String()
	err = waitRun(t, runAsync(context.Background(), m))
	assert.Error(t, err)
	assert.False(t, m.Registry.AnyActive())
}
