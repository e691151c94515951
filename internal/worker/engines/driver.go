// Package engines implements the detect/describe/list contract each local
// inference engine (vLLM, Ollama, LM Studio) satisfies, grounded on the
// original implementation's worker/src/engines module.
package engines

import (
	"context"
	"time"

	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

// ProbeTimeout bounds how long a single engine detection probe may take.
const ProbeTimeout = 2 * time.Second

// Driver is satisfied by every supported local inference engine.
type Driver interface {
	// Name is the engine type string sent in heartbeats ("vllm", "ollama",
	// "lmstudio").
	Name() string

	// Probe reports whether the engine is reachable and serving.
	Probe(ctx context.Context) bool

	// Info returns the engine descriptor to publish in heartbeats.
	Info(ctx context.Context) (shared.EngineInfo, error)

	// Models lists the model identifiers this engine currently serves.
	Models(ctx context.Context) ([]string, error)

	// BaseURL is the address the worker's proxy forwards inference requests
	// to for models owned by this engine.
	BaseURL() string
}
