package core

import (
	"os"

	"falcon/config"
	"falcon/internal/transport"
	"falcon/util"
)

// Build constructs the terminal mode for cfg.  cfg is expected to have
// passed Validate.
func Build(cfg *config.Config, logger *util.Logger) (*TerminalMode, error) {
	reg := NewRegistry(logger, nil)
	reg.SetDialer(buildDialer(cfg, logger))

	return &TerminalMode{
		Registry:     reg,
		Endpoints:    buildEndpoints(cfg),
		Stdin:        os.Stdin,
		Stdout:       os.Stdout,
		Hex:          cfg.Hex,
		KeepOpen:     cfg.KeepOpen,
		RateInterval: cfg.RateInterval,
		MetricsAddr:  cfg.MetricsAddr,
		Logger:       logger,
	}, nil
}

// buildEndpoints lists servers before clients so a local loop (server and
// client of different protocols) has its listener up first.
func buildEndpoints(cfg *config.Config) []Endpoint {
	var eps []Endpoint
	if cfg.TCPListenPort != 0 {
		eps = append(eps, Endpoint{Kind: transport.KindTCPServer, Host: cfg.BindHost, Port: cfg.TCPListenPort, NoDNS: cfg.NoDNS})
	}
	if cfg.UDPListenPort != 0 {
		eps = append(eps, Endpoint{Kind: transport.KindUDPServer, Host: cfg.BindHost, Port: cfg.UDPListenPort, NoDNS: cfg.NoDNS})
	}
	if hp := cfg.TCPConnect; hp != nil {
		eps = append(eps, Endpoint{Kind: transport.KindTCPClient, Host: hp.Host, Port: hp.Port, NoDNS: cfg.NoDNS, Retries: cfg.Retries})
	}
	if hp := cfg.UDPConnect; hp != nil {
		eps = append(eps, Endpoint{Kind: transport.KindUDPClient, Host: hp.Host, Port: hp.Port, NoDNS: cfg.NoDNS, Retries: cfg.Retries})
	}
	return eps
}

// buildDialer picks the dialer for the TCP client.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&transport.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.Timeout,
		}, logger)
	}
	return &transport.NetDialer{Timeout: cfg.Timeout}
}
