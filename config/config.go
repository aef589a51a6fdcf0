// Package config defines falcon's runtime configuration and the helpers
// that parse endpoint and tunnel specifications.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

// Config holds every tuneable for one falcon run.
type Config struct {
	// ── Transports ───────────────────────────────────────────────────
	TCPListenPort int       // 0 = no TCP server
	TCPConnect    *HostPort // nil = no TCP client
	UDPListenPort int       // 0 = no UDP server
	UDPConnect    *HostPort // nil = no UDP client
	BindHost      string    // listen address for both servers ("" = all)
	NoDNS         bool
	Timeout       time.Duration
	Retries       int

	// ── Terminal ─────────────────────────────────────────────────────
	Hex          bool
	KeepOpen     bool
	RateInterval time.Duration

	// ── SSH tunnel (TCP client only) ─────────────────────────────────
	TunnelSpec     string // raw [user@]host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	MetricsAddr string
	LogFile     string
	Verbose     int
}

// HostPort is a remote endpoint.
type HostPort struct {
	Host string
	Port int
}

func (hp HostPort) String() string {
	return net.JoinHostPort(hp.Host, strconv.Itoa(hp.Port))
}

// ParsePort accepts a decimal port in 1-65535.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// ParseHostPort splits "host:port" or "[v6]:port".
func ParseHostPort(s string) (HostPort, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return HostPort{}, fmt.Errorf("invalid endpoint %q: expected host:port", s)
	}
	if host == "" {
		return HostPort{}, fmt.Errorf("invalid endpoint %q: host is required", s)
	}
	port, err := ParsePort(portStr)
	if err != nil {
		return HostPort{}, err
	}
	return HostPort{Host: host, Port: port}, nil
}

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q, expected [user@]host[:port]", spec)
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		if port, err = ParsePort(m[3]); err != nil {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec fills the Tunnel* fields from TunnelSpec.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return err
	}
	c.TunnelEnabled = true
	c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	return nil
}

// AnyTransport reports whether at least one transport is configured.
func (c *Config) AnyTransport() bool {
	return c.TCPListenPort != 0 || c.TCPConnect != nil || c.UDPListenPort != 0 || c.UDPConnect != nil
}
