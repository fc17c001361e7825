package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haloedge/ingestd/internal/coordinator"
	"github.com/haloedge/ingestd/internal/hooks"
	"github.com/haloedge/ingestd/internal/ipc"
	"github.com/haloedge/ingestd/internal/logger"
	"github.com/haloedge/ingestd/internal/target"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// flag package already printed usage/error
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	if cfg.daemonize {
		if err := daemonize(); err != nil {
			log.Error("daemonize failed", "error", err)
			os.Exit(1)
		}
	}

	producerSock := cfg.producerSock
	if producerSock == "" {
		producerSock = ipc.ProducerSockPath()
	}
	consumerSock := cfg.consumerSock
	if consumerSock == "" {
		consumerSock = ipc.ConsumerSockPath()
	}

	hookConfig := hooks.DefaultHookConfig()
	hookConfig.StdioFormat = cfg.hookStdioFormat
	hookManager := hooks.NewHookManager(hookConfig, logger.Logger())
	if cfg.hookWebhookURL != "" {
		webhookTimeout, err := time.ParseDuration(hookConfig.Timeout)
		if err != nil {
			webhookTimeout = 30 * time.Second
		}
		for _, evt := range []hooks.EventType{
			hooks.EventStreamStarted, hooks.EventStreamStopped,
			hooks.EventCallerAdded, hooks.EventCallerRemoved,
			hooks.EventResourceError, hooks.EventError,
		} {
			_ = hookManager.RegisterHook(evt, hooks.NewWebhookHook("cli-webhook", cfg.hookWebhookURL, webhookTimeout))
		}
	}
	defer hookManager.Close()

	core := coordinator.New(target.DefaultSinkFactory, logger.Logger(), hookManager)

	producerd, err := ipc.NewProducerd(producerSock, core, logger.Logger())
	if err != nil {
		log.Error("failed to start producerd", "error", err)
		os.Exit(1)
	}
	consumerd, err := ipc.NewConsumerd(consumerSock, core, logger.Logger())
	if err != nil {
		log.Error("failed to start consumerd", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return producerd.Serve(gctx) })
	g.Go(func() error { return consumerd.Serve(gctx) })

	log.Info("ingestd started", "producer_sock", producerSock, "consumer_sock", consumerSock, "version", version)

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := g.Wait(); err != nil {
			log.Error("daemon stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("ingestd stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
