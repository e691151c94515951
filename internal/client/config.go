package client

import (
	"strings"

	"github.com/100monkeys-ai/monkey-troop/internal/config"
	"github.com/100monkeys-ai/monkey-troop/internal/netutil"
)

// Config holds the client process's runtime configuration, grounded on the
// original implementation's client/src/config.rs.
type Config struct {
	CoordinatorURL string
	ProxyPort      int
	RequesterID    string
}

// FromEnv loads the client configuration from the environment. REQUESTER_ID
// falls back to the node's Tailscale IP, and finally to "unknown", never
// failing startup.
func FromEnv() Config {
	requester := config.GetEnv("REQUESTER_ID", "")
	if requester == "" {
		if ip := netutil.TailscaleIP(); ip != "" {
			requester = ip
		} else {
			requester = "unknown"
		}
	}

	return Config{
		CoordinatorURL: strings.TrimRight(config.GetEnv("COORDINATOR_URL", "https://troop.100monkeys.ai"), "/"),
		ProxyPort:      config.GetEnvInt("PROXY_PORT", 9000),
		RequesterID:    requester,
	}
}
