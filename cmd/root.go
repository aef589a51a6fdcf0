// Package cmd wires up the CLI flags and dispatches to the terminal mode.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"falcon/config"
	"falcon/internal/core"
	"falcon/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X falcon/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// usageOut receives help and version text.
var usageOut io.Writer = os.Stderr //nolint:gochecknoglobals

// Execute parses args, layers them over FALCON_* environment variables
// and runs the terminal.
func Execute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("falcon", flag.ContinueOnError)
	config.RegisterFlags(fs)

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(usageOut, "falcon %s\n", version)
		return nil
	}
	if rest := fs.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", rest[0])
	}

	cfg, err := config.Load(viper.New(), fs)
	if err != nil {
		return err
	}
	if len(args) == 0 && !cfg.AnyTransport() {
		printUsage(fs)
		return nil
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintln(usageOut, "configuration OK")
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    config.DefaultLogMaxSizeMB,
			MaxBackups: config.DefaultLogMaxBackups,
		}
		defer lj.Close()
		logger.SetOutput(lj)
		logger.SetTimestamps(true)
	}
	defer logger.Sync() //nolint:errcheck

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(usageOut, `Falcon - multi-protocol network terminal v%s

Runs up to one TCP and one UDP transport at once, prints what they
receive and sends stdin to all of them.

Usage:
  falcon [--tcp-listen PORT | --tcp-connect HOST:PORT]
         [--udp-listen PORT | --udp-connect HOST:PORT] [options]

Options:
`, version)
	fs.SetOutput(usageOut)
	fs.PrintDefaults()
	fmt.Fprintf(usageOut, `
Every option can also be set as FALCON_<NAME>, e.g. FALCON_TCP_LISTEN=9000.

Examples:
  falcon --tcp-listen 9000                          TCP server
  falcon --tcp-connect example.com:80               TCP client
  falcon --tcp-listen 9000 --udp-connect host:5000  Bridge TCP peers to UDP
  falcon -x --udp-listen 5353                       Hex dump datagrams
  falcon -T admin@bastion --tcp-connect db:5432     TCP client via SSH
  falcon --tcp-listen 9000 --metrics-addr :9100     Expose Prometheus metrics
`)
}
