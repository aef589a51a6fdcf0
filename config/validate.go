package config

import (
	"net"

	ncerr "falcon/internal/errors"
)

// Validate checks that the configuration is internally consistent.  The
// first problem found is returned as a *errors.ConfigError.
func (c *Config) Validate() error {
	if !c.AnyTransport() {
		return &ncerr.ConfigError{
			Field:   "tcp-listen",
			Message: "no transport configured",
			Hint:    "use --tcp-listen, --tcp-connect, --udp-listen or --udp-connect",
		}
	}

	if c.TCPListenPort != 0 && c.TCPConnect != nil {
		return &ncerr.ConfigError{
			Field:   "tcp-connect",
			Value:   c.TCPConnect.String(),
			Message: "a TCP server and a TCP client cannot run at the same time",
		}
	}
	if c.UDPListenPort != 0 && c.UDPConnect != nil {
		return &ncerr.ConfigError{
			Field:   "udp-connect",
			Value:   c.UDPConnect.String(),
			Message: "a UDP server and a UDP client cannot run at the same time",
		}
	}

	ports := []struct {
		field string
		port  int
	}{{"tcp-listen", c.TCPListenPort}, {"udp-listen", c.UDPListenPort}}
	for _, p := range ports {
		if p.port < 0 || p.port > 65535 {
			return &ncerr.ConfigError{Field: p.field, Value: p.port, Message: "port out of range 1-65535"}
		}
	}

	if c.NoDNS {
		remotes := []struct {
			field string
			hp    *HostPort
		}{{"tcp-connect", c.TCPConnect}, {"udp-connect", c.UDPConnect}}
		for _, r := range remotes {
			if r.hp != nil && net.ParseIP(r.hp.Host) == nil {
				return &ncerr.ConfigError{
					Field:   r.field,
					Value:   r.hp.Host,
					Message: "not a numeric address and DNS is disabled",
					Hint:    "drop -n or pass an IP address",
				}
			}
		}
	}

	if c.TunnelEnabled {
		if c.TCPConnect == nil {
			return &ncerr.ConfigError{
				Field:   "tunnel",
				Value:   c.TunnelSpec,
				Message: "an SSH tunnel only carries the TCP client",
				Hint:    "add --tcp-connect host:port",
			}
		}
		if c.TunnelHost == "" {
			return &ncerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
		}
	}

	if c.Retries < 1 {
		return &ncerr.ConfigError{Field: "retries", Value: c.Retries, Message: "must be at least 1"}
	}
	if c.RateInterval <= 0 {
		return &ncerr.ConfigError{Field: "rate-interval", Value: c.RateInterval, Message: "must be positive"}
	}
	if c.Timeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}
	return nil
}
