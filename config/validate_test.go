package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "falcon/internal/errors"
)

func valid() Config {
	return Config{Retries: 1, RateInterval: time.Second, Timeout: time.Second}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string // "" means valid
		wantSub   string
	}{
		{"tcp server", func(c *Config) { c.TCPListenPort = 9000 }, "", ""},
		{"tcp and udp together", func(c *Config) {
			c.TCPListenPort = 9000
			c.UDPConnect = &HostPort{Host: "127.0.0.1", Port: 9001}
		}, "", ""},
		{"nothing configured", func(*Config) {}, "tcp-listen", "hint:"},
		{"tcp both roles", func(c *Config) {
			c.TCPListenPort = 9000
			c.TCPConnect = &HostPort{Host: "h", Port: 1}
		}, "tcp-connect", "cannot run at the same time"},
		{"udp both roles", func(c *Config) {
			c.UDPListenPort = 9000
			c.UDPConnect = &HostPort{Host: "h", Port: 1}
		}, "udp-connect", "cannot run at the same time"},
		{"port out of range", func(c *Config) { c.UDPListenPort = 70000 }, "udp-listen", "out of range"},
		{"no-dns with hostname", func(c *Config) {
			c.NoDNS = true
			c.TCPConnect = &HostPort{Host: "example.com", Port: 80}
		}, "tcp-connect", "DNS is disabled"},
		{"no-dns with ip", func(c *Config) {
			c.NoDNS = true
			c.TCPConnect = &HostPort{Host: "10.0.0.1", Port: 80}
		}, "", ""},
		{"tunnel without tcp client", func(c *Config) {
			c.UDPListenPort = 9000
			c.TunnelEnabled, c.TunnelHost = true, "gw"
		}, "tunnel", "only carries the TCP client"},
		{"tunnel with tcp client", func(c *Config) {
			c.TCPConnect = &HostPort{Host: "db", Port: 5432}
			c.TunnelEnabled, c.TunnelHost = true, "gw"
		}, "", ""},
		{"zero retries", func(c *Config) { c.TCPListenPort = 1; c.Retries = 0 }, "retries", "at least 1"},
		{"zero rate interval", func(c *Config) { c.TCPListenPort = 1; c.RateInterval = 0 }, "rate-interval", "positive"},
		{"negative timeout", func(c *Config) { c.TCPListenPort = 1; c.Timeout = -time.Second }, "timeout", "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ce *ncerr.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantField, ce.Field)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}
