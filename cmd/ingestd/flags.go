package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into the
// daemon's runtime configuration, mirroring cmd/rtmp-server/flags.go's
// cliConfig+parseFlags split from the teacher.
type cliConfig struct {
	producerSock string
	consumerSock string
	logLevel     string
	daemonize    bool
	showVersion  bool

	hookStdioFormat string
	hookWebhookURL  string
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("ingestd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.producerSock, "producer-sock", "", "producerd socket path (default: <runtime_dir>/ingestd-producerd.sock)")
	fs.StringVar(&cfg.consumerSock, "consumer-sock", "", "consumerd socket path (default: <runtime_dir>/ingestd-consumerd.sock)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.daemonize, "daemonize", false, "Detach from the controlling terminal (setsid) before serving")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	fs.StringVar(&cfg.hookStdioFormat, "hook-stdio-format", "", "Emit pipeline/target events to stderr: json|env|\"\" (disabled)")
	fs.StringVar(&cfg.hookWebhookURL, "hook-webhook-url", "", "POST pipeline/target events as JSON to this URL (disabled if empty)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	switch cfg.hookStdioFormat {
	case "", "json", "env":
	default:
		return nil, fmt.Errorf("invalid hook-stdio-format %q", cfg.hookStdioFormat)
	}

	if cfg.producerSock != "" && cfg.producerSock == cfg.consumerSock {
		return nil, errors.New("producer-sock and consumer-sock must differ")
	}

	return cfg, nil
}
