// Package heartbeat runs the change-detecting heartbeat loop that tells the
// coordinator what this node can serve, grounded on the original
// implementation's worker/src/heartbeat.rs.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/100monkeys-ai/monkey-troop/internal/logging"
	"github.com/100monkeys-ai/monkey-troop/internal/middleware"
	"github.com/100monkeys-ai/monkey-troop/internal/shared"
	"github.com/100monkeys-ai/monkey-troop/internal/shared/circuitbreaker"
	"github.com/100monkeys-ai/monkey-troop/internal/worker/engines"
	"github.com/100monkeys-ai/monkey-troop/internal/worker/gpu"
)

// Config is the subset of worker configuration the heartbeat loop needs.
type Config struct {
	NodeID             string
	CoordinatorURL     string
	TailscaleIP        string
	HeartbeatInterval  time.Duration
	ModelRefreshPeriod time.Duration
}

// Run drives the heartbeat loop until ctx is cancelled. The model registry
// is refreshed on its own timer, independent of the heartbeat send timer,
// so a MODEL_REFRESH_INTERVAL shorter than HEARTBEAT_INTERVAL still refreshes
// promptly instead of waiting for the next heartbeat tick. metrics may be
// nil.
func Run(ctx context.Context, cfg Config, registry *engines.Registry, log *logging.Logger, metrics *middleware.Metrics) {
	breaker := circuitbreaker.New(shared.CircuitBreakerThreshold, shared.CircuitBreakerTimeout)
	client := &http.Client{Timeout: shared.HeartbeatTimeout}

	var lastSent *shared.NodeHeartbeat

	heartbeatTicker := time.NewTicker(cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	refreshTicker := time.NewTicker(cfg.ModelRefreshPeriod)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-refreshTicker.C:
			refreshRegistry(ctx, registry, log)

		case <-heartbeatTicker.C:
			setBreakerMetric(metrics, breaker.State())

			if !breaker.Allow() {
				recordSkipped(metrics)
				log.WithContext(ctx).Debug("circuit breaker open, skipping heartbeat")
				continue
			}

			if err := tick(ctx, cfg, registry, client, &lastSent, log, metrics); err != nil {
				breaker.RecordFailure()
				recordSkipped(metrics)
				log.WithContext(ctx).WithError(err).Warn("heartbeat send failed")
			} else {
				breaker.RecordSuccess()
			}
			setBreakerMetric(metrics, breaker.State())
		}
	}
}

func refreshRegistry(ctx context.Context, registry *engines.Registry, log *logging.Logger) {
	refreshCtx, cancel := context.WithTimeout(ctx, shared.DiscoveryTimeout)
	defer cancel()

	if err := engines.Refresh(refreshCtx, registry); err != nil {
		log.WithContext(ctx).WithError(err).Warn("failed to refresh engine registry")
	}
}

// tick builds and sends one heartbeat, suppressing the send entirely when
// neither the model list nor the engine descriptors have changed since the
// last successfully sent heartbeat.
func tick(ctx context.Context, cfg Config, registry *engines.Registry, client *http.Client, lastSent **shared.NodeHeartbeat, log *logging.Logger, metrics *middleware.Metrics) error {
	snapshot := registry.Snapshot()

	status := shared.StatusBusy
	if gpu.IsIdle(ctx) {
		status = shared.StatusIdle
	}

	hb := &shared.NodeHeartbeat{
		NodeID:      cfg.NodeID,
		TailscaleIP: cfg.TailscaleIP,
		Status:      status,
		Models:      snapshot.Models,
		Hardware:    gpu.Info(ctx),
		Engines:     snapshot.Engines,
	}

	if unchanged(*lastSent, hb) {
		recordSkipped(metrics)
		log.WithContext(ctx).Debug("heartbeat unchanged, skipping send")
		return nil
	}

	if err := send(ctx, cfg.CoordinatorURL, client, hb); err != nil {
		return err
	}

	*lastSent = hb
	recordSent(metrics)
	return nil
}

// unchanged compares only the fields that matter for suppression: the
// model list and the engine descriptor list. Status and hardware readings
// fluctuate every tick and are intentionally excluded from the comparison.
func unchanged(prev, next *shared.NodeHeartbeat) bool {
	if prev == nil {
		return false
	}
	return reflect.DeepEqual(prev.Models, next.Models) && reflect.DeepEqual(prev.Engines, next.Engines)
}

func send(ctx context.Context, coordinatorURL string, client *http.Client, hb *shared.NodeHeartbeat) error {
	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, coordinatorURL+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return shared.NewNetworkError("heartbeat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return shared.NewError(shared.KindNetwork, fmt.Sprintf("coordinator returned %d", resp.StatusCode), nil)
	}
	return nil
}

func recordSent(m *middleware.Metrics) {
	if m != nil {
		m.HeartbeatsSent.Inc()
	}
}

func recordSkipped(m *middleware.Metrics) {
	if m != nil {
		m.HeartbeatsSkipped.Inc()
	}
}

func setBreakerMetric(m *middleware.Metrics, state circuitbreaker.State) {
	if m != nil {
		m.CircuitBreakerState.Set(float64(state))
	}
}
