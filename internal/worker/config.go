package worker

import (
	"os"
	"strings"
	"time"

	"github.com/100monkeys-ai/monkey-troop/internal/config"
)

// Config holds the worker process's runtime configuration, grounded on the
// original implementation's worker/src/config.rs.
type Config struct {
	NodeID              string
	CoordinatorURL      string
	ProxyPort           int
	HeartbeatInterval   time.Duration
	ModelRefreshPeriod  time.Duration
	RunInitialBenchmark bool
}

// FromEnv loads the worker configuration from the environment, falling back
// to the hostname for NODE_ID and otherwise tolerant defaults throughout.
func FromEnv() Config {
	nodeID := strings.TrimSpace(os.Getenv("NODE_ID"))
	if nodeID == "" {
		if host, err := os.Hostname(); err == nil {
			nodeID = host
		} else {
			nodeID = "unknown-node"
		}
	}

	return Config{
		NodeID:              nodeID,
		CoordinatorURL:      strings.TrimRight(config.GetEnv("COORDINATOR_URL", "https://troop.100monkeys.ai"), "/"),
		ProxyPort:           config.GetEnvInt("PROXY_PORT", 8080),
		HeartbeatInterval:   config.GetEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		ModelRefreshPeriod:  config.GetEnvDuration("MODEL_REFRESH_INTERVAL", 180*time.Second),
		RunInitialBenchmark: config.GetEnvBool("RUN_INITIAL_BENCHMARK", false),
	}
}
