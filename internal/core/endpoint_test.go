package core

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "falcon/internal/errors"
	"falcon/internal/transport"
	"falcon/util"
)

func TestEndpoint_String(t *testing.T) {
	e := Endpoint{Kind: transport.KindUDPClient, Host: "::1", Port: 53}
	assert.Equal(t, "udp-client [::1]:53", e.String())
}

func TestEndpoint_OpenServers(t *testing.T) {
	r := newRegistry(t)
	logger := util.NewLogger(0)

	require.NoError(t, Endpoint{Kind: transport.KindTCPServer, Host: "127.0.0.1"}.Open(context.Background(), r, logger))
	require.NoError(t, Endpoint{Kind: transport.KindUDPServer, Host: "127.0.0.1"}.Open(context.Background(), r, logger))

	assert.True(t, r.IsTCPServerActive())
	assert.True(t, r.IsUDPServerActive())
	assert.NotNil(t, r.UDPServer())
}

func TestEndpoint_NoDNSRejectsHostname(t *testing.T) {
	r := newRegistry(t)
	err := Endpoint{Kind: transport.KindTCPClient, Host: "example.com", Port: 80, NoDNS: true}.
		Open(context.Background(), r, util.NewLogger(0))
	assert.Error(t, err)
	assert.False(t, r.AnyActive())
}

func TestEndpoint_SingleAttempt(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)
	r := newRegistry(t)

	start := time.Now()
	err = Endpoint{Kind: transport.KindTCPClient, Host: "127.0.0.1", Port: port, Retries: 1}.
		Open(context.Background(), r, util.NewLogger(0))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "no backoff for a single attempt")
}

func TestEndpoint_RetriesUntilListening(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)

	lnCh := make(chan net.Listener, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		ln, err := net.Listen("tcp", util.FormatAddr("127.0.0.1", port))
		if err != nil {
			close(lnCh)
			return
		}
		lnCh <- ln
	}()

	r := newRegistry(t)
	err = Endpoint{Kind: transport.KindTCPClient, Host: "127.0.0.1", Port: port, Retries: 5}.
		Open(context.Background(), r, util.NewLogger(0))

	if ln, ok := <-lnCh; ok {
		defer ln.Close()
	} else {
		t.Skip("port was taken before the listener could bind")
	}
	require.NoError(t, err)
	assert.True(t, r.IsTCPClientActive())
}

func TestEndpoint_RoleConflictNotRetried(t *testing.T) {
	r := newRegistry(t)
	s := tcpServer(t, r)

	start := time.Now()
	err := Endpoint{Kind: transport.KindTCPClient, Host: "127.0.0.1", Port: s.Addr().(*net.TCPAddr).Port, Retries: 5}.
		Open(context.Background(), r, util.NewLogger(0))
	assert.ErrorIs(t, err, ncerr.ErrRoleInUse)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestEndpoint_RetryHonoursContext(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)
	r := newRegistry(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = Endpoint{Kind: transport.KindTCPClient, Host: "127.0.0.1", Port: port, Retries: 10}.
		Open(ctx, r, util.NewLogger(0))
	assert.Error(t, err)
	assert.False(t, r.IsTCPClientActive())
}
