// Command worker runs a monkey-troop node: it detects the local inference
// engines, reports them to the coordinator via heartbeat, and exposes a
// ticket-gated inference endpoint for the coordinator to route requests to.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/100monkeys-ai/monkey-troop/internal/logging"
	"github.com/100monkeys-ai/monkey-troop/internal/middleware"
	"github.com/100monkeys-ai/monkey-troop/internal/netutil"
	"github.com/100monkeys-ai/monkey-troop/internal/shared"
	"github.com/100monkeys-ai/monkey-troop/internal/worker"
	"github.com/100monkeys-ai/monkey-troop/internal/worker/engines"
	"github.com/100monkeys-ai/monkey-troop/internal/worker/heartbeat"
	"github.com/100monkeys-ai/monkey-troop/internal/worker/proxy"
)

func main() {
	log := logging.NewFromEnv("worker")
	cfg := worker.FromEnv()

	logHostDiagnostics(log, cfg.NodeID)

	if cfg.RunInitialBenchmark {
		// The hardware benchmark is a separate Python program; this process
		// only recognizes the flag and does not launch the benchmark.
		log.WithFields(map[string]interface{}{"node_id": cfg.NodeID}).Info("RUN_INITIAL_BENCHMARK set, skipping benchmark invocation (out of scope)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := engines.NewRegistry()
	metrics := middleware.NewMetrics("worker")

	detectCtx, cancelDetect := context.WithTimeout(ctx, shared.DiscoveryTimeout)
	err := engines.Refresh(detectCtx, registry)
	cancelDetect()
	if err != nil {
		log.WithError(err).Fatal("no inference engines detected, refusing to start")
	}

	server, err := proxy.NewServer(ctx, cfg.CoordinatorURL, registry, log, metrics)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize proxy server")
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ProxyPort),
		Handler:           server.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      330 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		log.WithFields(map[string]interface{}{"addr": httpServer.Addr}).Info("starting proxy server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy server: %w", err)
		}
	}()

	go func() {
		heartbeat.Run(ctx, heartbeat.Config{
			NodeID:             cfg.NodeID,
			CoordinatorURL:     cfg.CoordinatorURL,
			TailscaleIP:        tailscaleIPOrUnknown(),
			HeartbeatInterval:  cfg.HeartbeatInterval,
			ModelRefreshPeriod: cfg.ModelRefreshPeriod,
		}, registry, log, metrics)
		errCh <- fmt.Errorf("heartbeat loop exited unexpectedly")
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("component exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("error during graceful shutdown")
	}

	os.Exit(0)
}

func tailscaleIPOrUnknown() string {
	if ip := netutil.TailscaleIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// logHostDiagnostics records the node's platform and total memory once at
// startup, so an operator scanning logs can tell what a node is without
// shelling in. Best-effort: gopsutil failures here are logged, not fatal.
func logHostDiagnostics(log *logging.Logger, nodeID string) {
	fields := map[string]interface{}{"node_id": nodeID}

	if info, err := host.Info(); err == nil {
		fields["platform"] = info.Platform
		fields["kernel_version"] = info.KernelVersion
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["total_memory_mb"] = vm.Total / (1024 * 1024)
	}

	log.WithFields(fields).Info("worker starting")
}
