package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ingest-svr/internal/audit"
	"ingest-svr/internal/config"
	"ingest-svr/internal/observability"
	"ingest-svr/internal/parser"
	"ingest-svr/internal/publish"
	"ingest-svr/internal/receiver"
	"ingest-svr/internal/server"
	"ingest-svr/internal/store"
)

const drainGrace = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	logger := observability.NewLogger()
	logger.Info("starting ingest-svr", "tracker", cfg.Tracker, "protocols", cfg.Protocols, "port", cfg.Port)

	registry := parser.NewRegistry()
	entries := make(map[string]parser.Entry, len(cfg.Protocols))
	for _, proto := range cfg.Protocols {
		entry, err := registry.Lookup(cfg.Tracker, proto)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			return 2
		}
		entries[proto] = entry
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	positions, err := store.Open(ctx, cfg.RedisAddr, 0)
	if err != nil {
		logger.Error("redis init failed", "error", err)
		return 1
	}
	defer positions.Close()

	auditLog, err := audit.Open(cfg.AuditPath)
	if err != nil {
		logger.Error("audit log init failed", "error", err)
		return 1
	}

	publisher := publish.New(cfg.BrokerURL(), cfg.Exchange, logger)
	svc := receiver.New(auditLog, publisher, positions, logger)

	go observability.StartMetricsServer(cfg.MetricsPort)

	// A failing audit sink must bring the process down rather than let
	// arrivals go unrecorded.
	auditCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err, ok := <-auditLog.Failed(); ok {
			logger.Error("audit sink failed, shutting down", "error", err)
			cancel()
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	var wg sync.WaitGroup
	errs := make(chan error, len(entries))
	for proto, entry := range entries {
		wg.Add(1)
		switch proto {
		case "tcp":
			ep := server.NewTCP(entry, svc, logger)
			go func() {
				defer wg.Done()
				errs <- ep.ListenAndServe(auditCtx, addr)
			}()
		case "udp":
			ep := server.NewUDP(entry, svc, logger)
			go func() {
				defer wg.Done()
				errs <- ep.ListenAndServe(auditCtx, addr)
			}()
		}
	}

	code := 0
	select {
	case <-auditCtx.Done():
	case err := <-errs:
		if err != nil {
			logger.Error("endpoint failed", "error", err)
			code = 1
		}
		cancel()
	}

	// Bounded drain: stop accepting, give open connections a grace period,
	// then flush the audit log and close the publisher.
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainGrace):
		logger.Warn("drain grace period expired")
	}

	if err := auditLog.Close(); err != nil {
		logger.Error("audit log close failed", "error", err)
		code = 1
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("publisher close failed", "error", err)
	}
	logger.Info("shutdown complete")
	return code
}
