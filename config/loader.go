package config

// loader.go - configuration layering.
//
// Precedence order (highest wins):
//   1. CLI flags that were set explicitly
//   2. FALCON_* environment variables
//   3. Defaults (defaults.go)

import (
	"fmt"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Option keys double as flag names; the environment variable is the key
// upper-cased with dashes turned into underscores and a FALCON_ prefix.
const (
	KeyTCPListen     = "tcp-listen"
	KeyTCPConnect    = "tcp-connect"
	KeyUDPListen     = "udp-listen"
	KeyUDPConnect    = "udp-connect"
	KeyBind          = "bind"
	KeyNoDNS         = "no-dns"
	KeyTimeout       = "timeout"
	KeyRetries       = "retries"
	KeyHex           = "hex"
	KeyKeepOpen      = "keep-open"
	KeyRateInterval  = "rate-interval"
	KeyMetricsAddr   = "metrics-addr"
	KeyLogFile       = "log-file"
	KeyVerbose       = "verbose"
	KeyTunnel        = "tunnel"
	KeySSHKey        = "ssh-key"
	KeySSHPassword   = "ssh-password"
	KeySSHAgent      = "ssh-agent"
	KeyStrictHostKey = "strict-hostkey"
	KeyKnownHosts    = "known-hosts"
)

// Option describes one setting.
type Option struct {
	Key     string
	Short   string
	Default any
	Usage   string
}

// Options lists every setting in help order.
func Options() []Option {
	return []Option{
		{Key: KeyTCPListen, Default: 0, Usage: "Run a TCP server on this port"},
		{Key: KeyTCPConnect, Default: "", Usage: "Connect a TCP client to host:port"},
		{Key: KeyUDPListen, Default: 0, Usage: "Run a UDP server on this port"},
		{Key: KeyUDPConnect, Default: "", Usage: "Connect a UDP client to host:port"},
		{Key: KeyBind, Short: "b", Default: "", Usage: "Listen address for servers (default all interfaces)"},
		{Key: KeyNoDNS, Short: "n", Default: false, Usage: "Numeric-only, no DNS resolution"},
		{Key: KeyTimeout, Short: "w", Default: DefaultConnTimeout, Usage: "Connect timeout"},
		{Key: KeyRetries, Short: "r", Default: DefaultRetries, Usage: "Client connect attempts"},
		{Key: KeyHex, Short: "x", Default: false, Usage: "Print inbound data as a hex dump"},
		{Key: KeyKeepOpen, Short: "k", Default: false, Usage: "Keep running after stdin closes"},
		{Key: KeyRateInterval, Default: DefaultRateInterval, Usage: "Receive-rate sampling interval"},
		{Key: KeyMetricsAddr, Default: "", Usage: "Serve Prometheus metrics on this address"},
		{Key: KeyLogFile, Default: "", Usage: "Write logs to this file (rotated)"},
		{Key: KeyVerbose, Short: "v", Default: 0, Usage: "Increase verbosity (repeatable)"},
		{Key: KeyTunnel, Short: "T", Default: "", Usage: "SSH tunnel for the TCP client via [user@]host[:port]"},
		{Key: KeySSHKey, Default: "", Usage: "SSH private key file"},
		{Key: KeySSHPassword, Default: false, Usage: "Prompt for SSH password"},
		{Key: KeySSHAgent, Default: false, Usage: "Use SSH agent"},
		{Key: KeyStrictHostKey, Default: false, Usage: "Verify SSH host keys"},
		{Key: KeyKnownHosts, Default: "", Usage: "Custom known_hosts path"},
	}
}

// RegisterFlags adds every option to fs.
func RegisterFlags(fs *flag.FlagSet) {
	for _, o := range Options() {
		if o.Key == KeyVerbose {
			fs.CountP(o.Key, o.Short, o.Usage)
			continue
		}
		switch d := o.Default.(type) {
		case int:
			fs.IntP(o.Key, o.Short, d, o.Usage)
		case string:
			fs.StringP(o.Key, o.Short, d, o.Usage)
		case bool:
			fs.BoolP(o.Key, o.Short, d, o.Usage)
		case time.Duration:
			fs.DurationP(o.Key, o.Short, d, o.Usage)
		}
	}
}

// Load layers defaults, FALCON_* environment variables and the flags
// explicitly set in fs into a Config.  The result is not validated.
func Load(v *viper.Viper, fs *flag.FlagSet) (*Config, error) {
	for _, o := range Options() {
		v.SetDefault(o.Key, o.Default)
	}
	v.SetEnvPrefix("falcon")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	cfg := &Config{
		TCPListenPort:  v.GetInt(KeyTCPListen),
		UDPListenPort:  v.GetInt(KeyUDPListen),
		BindHost:       v.GetString(KeyBind),
		NoDNS:          v.GetBool(KeyNoDNS),
		Timeout:        v.GetDuration(KeyTimeout),
		Retries:        v.GetInt(KeyRetries),
		Hex:            v.GetBool(KeyHex),
		KeepOpen:       v.GetBool(KeyKeepOpen),
		RateInterval:   v.GetDuration(KeyRateInterval),
		MetricsAddr:    v.GetString(KeyMetricsAddr),
		LogFile:        v.GetString(KeyLogFile),
		Verbose:        v.GetInt(KeyVerbose),
		TunnelSpec:     v.GetString(KeyTunnel),
		SSHKeyPath:     v.GetString(KeySSHKey),
		SSHPassword:    v.GetBool(KeySSHPassword),
		UseSSHAgent:    v.GetBool(KeySSHAgent),
		StrictHostKey:  v.GetBool(KeyStrictHostKey),
		KnownHostsPath: v.GetString(KeyKnownHosts),
	}

	var err error
	if cfg.TCPConnect, err = remote(v, KeyTCPConnect); err != nil {
		return nil, err
	}
	if cfg.UDPConnect, err = remote(v, KeyUDPConnect); err != nil {
		return nil, err
	}
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return nil, fmt.Errorf("tunnel: %w", err)
	}
	return cfg, nil
}

func remote(v *viper.Viper, key string) (*HostPort, error) {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return nil, nil
	}
	hp, err := ParseHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", key, err)
	}
	return &hp, nil
}
