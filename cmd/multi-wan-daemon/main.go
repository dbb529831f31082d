package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/lokig99/multi-wan-daemon/internal/config"
	"github.com/lokig99/multi-wan-daemon/internal/dns"
	_ "github.com/lokig99/multi-wan-daemon/internal/dns/providers"
	"github.com/lokig99/multi-wan-daemon/internal/failover"
	"github.com/lokig99/multi-wan-daemon/internal/healthchecks"
	"github.com/lokig99/multi-wan-daemon/internal/opnsense"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the configuration file (overrides MULTI_WAN_CONFIG)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := newLogger(*debug)

	if err := run(log, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) logr.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	zl, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: unable to build logger: %v\n", err)
		os.Exit(1)
	}
	return zapr.NewLogger(zl)
}

func run(log logr.Logger, configPath string) error {
	log.Info("starting multi-wan-daemon", "version", Version)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}
	log.Info("loaded configuration",
		"router", cfg.OPNsense.Host,
		"interfaces", len(cfg.Interfaces),
		"dnsProvider", cfg.DNS.Provider,
		"healthEnabled", cfg.Health.Enabled)

	router, err := opnsense.New(log.WithName("opnsense"), cfg.OPNsense, cfg.Interfaces)
	if err != nil {
		return fmt.Errorf("unable to create router client: %w", err)
	}

	provider, err := dns.NewProvider(cfg.DNS.Provider, log.WithName("dns-"+cfg.DNS.Provider), cfg.DNS.Settings)
	if err != nil {
		return fmt.Errorf("unable to create DNS provider: %w", err)
	}
	syncer := dns.NewSynchronizer(log.WithName("dns"), provider)

	healthURL := ""
	if cfg.Health.Enabled {
		healthURL = cfg.Health.URL
	}
	pinger := healthchecks.New(log.WithName("healthchecks"), healthURL)

	daemon := failover.New(log.WithName("failover"), router, syncer, pinger,
		time.Duration(cfg.Interval)*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting reconciliation loop", "intervalSeconds", cfg.Interval)
	daemon.Run(ctx)
	log.Info("shutting down")
	return nil
}
