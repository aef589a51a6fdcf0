package config

import (
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("falcon", flag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(viper.New(), fs)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)
	assert.Zero(t, cfg.TCPListenPort)
	assert.Nil(t, cfg.TCPConnect)
	assert.Equal(t, DefaultConnTimeout, cfg.Timeout)
	assert.Equal(t, DefaultRateInterval, cfg.RateInterval)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Zero(t, cfg.Verbose)
	assert.False(t, cfg.TunnelEnabled)
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := load(t,
		"--tcp-connect", "10.0.0.5:9000",
		"--udp-listen", "9001",
		"-b", "127.0.0.1",
		"-w", "3s",
		"-r", "4",
		"-x", "-k",
		"--rate-interval", "250ms",
		"--metrics-addr", ":9100",
		"-vv",
		"-T", "admin@bastion",
	)
	require.NoError(t, err)
	assert.Equal(t, &HostPort{Host: "10.0.0.5", Port: 9000}, cfg.TCPConnect)
	assert.Equal(t, 9001, cfg.UDPListenPort)
	assert.Equal(t, "127.0.0.1", cfg.BindHost)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.Retries)
	assert.True(t, cfg.Hex)
	assert.True(t, cfg.KeepOpen)
	assert.Equal(t, 250*time.Millisecond, cfg.RateInterval)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, 2, cfg.Verbose)
	assert.True(t, cfg.TunnelEnabled)
	assert.Equal(t, "bastion", cfg.TunnelHost)
	assert.Equal(t, DefaultSSHPort, cfg.TunnelPort)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("FALCON_TCP_LISTEN", "7000")
	t.Setenv("FALCON_UDP_CONNECT", "127.0.0.1:7001")
	t.Setenv("FALCON_NO_DNS", "true")
	t.Setenv("FALCON_TIMEOUT", "2s")
	t.Setenv("FALCON_SSH_AGENT", "1")
	t.Setenv("FALCON_KNOWN_HOSTS", "/tmp/kh")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.TCPListenPort)
	assert.Equal(t, &HostPort{Host: "127.0.0.1", Port: 7001}, cfg.UDPConnect)
	assert.True(t, cfg.NoDNS)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.True(t, cfg.UseSSHAgent)
	assert.Equal(t, "/tmp/kh", cfg.KnownHostsPath)
}

func TestLoad_FlagBeatsEnv(t *testing.T) {
	t.Setenv("FALCON_TCP_LISTEN", "7000")
	t.Setenv("FALCON_RETRIES", "9")

	cfg, err := load(t, "--tcp-listen", "8000")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.TCPListenPort, "explicit flag wins")
	assert.Equal(t, 9, cfg.Retries, "env fills what flags leave unset")
}

func TestLoad_BadEndpoint(t *testing.T) {
	_, err := load(t, "--tcp-connect", "no-port")
	assert.ErrorContains(t, err, "--tcp-connect")

	_, err = load(t, "-T", "a@b:99999")
	assert.ErrorContains(t, err, "tunnel")
}

func TestLoad_WithoutFlags(t *testing.T) {
	t.Setenv("FALCON_UDP_LISTEN", "6000")
	cfg, err := Load(viper.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.UDPListenPort)
}

func TestOptions_AllRegistered(t *testing.T) {
	fs := flag.NewFlagSet("falcon", flag.ContinueOnError)
	RegisterFlags(fs)
	for _, o := range Options() {
		f := fs.Lookup(o.Key)
		require.NotNil(t, f, o.Key)
		assert.Equal(t, o.Short, f.Shorthand, o.Key)
	}
}
