package engines

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

// ErrNoEnginesDetected is returned by Refresh when no configured engine
// responds to a probe. spec.md §4.1/§8 require the worker to refuse to
// start in this situation.
var ErrNoEnginesDetected = errors.New("no inference engines detected")

// AllDrivers returns one driver instance per supported engine, in priority
// order from highest to lowest: vllm beats ollama beats lmstudio on a
// model-ownership conflict. The original implementation stopped at the
// first engine it found; this redesign probes every driver and merges the
// full successful subset instead.
func AllDrivers() []Driver {
	return []Driver{
		NewVllmDriver(),
		NewOllamaDriver(),
		NewLMStudioDriver(),
	}
}

// DetectAll probes every known driver concurrently and returns the subset
// that responded.
func DetectAll(ctx context.Context) []Driver {
	drivers := AllDrivers()
	found := make([]Driver, len(drivers))

	var wg sync.WaitGroup
	for i, d := range drivers {
		wg.Add(1)
		go func(i int, d Driver) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
			defer cancel()
			if d.Probe(probeCtx) {
				found[i] = d
			}
		}(i, d)
	}
	wg.Wait()

	live := make([]Driver, 0, len(drivers))
	for _, d := range found {
		if d != nil {
			live = append(live, d)
		}
	}
	return live
}

// Snapshot is one immutable view of which models are available and where
// each is served from.
type Snapshot struct {
	Models      []string
	ModelOwners map[string]Driver
	Engines     []shared.EngineInfo
}

// Build merges the successful probes into a Snapshot. When two engines
// claim the same model, the one earlier in live wins; DetectAll returns
// drivers in AllDrivers' priority order, so vllm > ollama > lmstudio.
func Build(ctx context.Context, live []Driver) (*Snapshot, error) {
	owners := make(map[string]Driver)
	engineInfos := make([]shared.EngineInfo, 0, len(live))

	// Iterate in reverse priority so higher-priority drivers overwrite
	// lower-priority claims on the same model name.
	for i := len(live) - 1; i >= 0; i-- {
		d := live[i]
		models, err := d.Models(ctx)
		if err != nil {
			continue
		}
		for _, m := range models {
			owners[m] = d
		}
	}
	for _, d := range live {
		info, err := d.Info(ctx)
		if err != nil {
			continue
		}
		engineInfos = append(engineInfos, info)
	}

	names := make([]string, 0, len(owners))
	for name := range owners {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Snapshot{Models: names, ModelOwners: owners, Engines: engineInfos}, nil
}

// Refresh probes every driver and, if at least one responds, builds a
// snapshot and stores it in registry. It returns ErrNoEnginesDetected if
// none responded, so callers can decide whether that is fatal (worker
// startup) or merely logged and retried later (the heartbeat loop's
// periodic refresh).
func Refresh(ctx context.Context, registry *Registry) error {
	live := DetectAll(ctx)
	if len(live) == 0 {
		return ErrNoEnginesDetected
	}
	snapshot, err := Build(ctx, live)
	if err != nil {
		return err
	}
	registry.Store(snapshot)
	return nil
}

// Registry is a concurrent-safe, single-writer/multi-reader view of the
// current model snapshot. Readers never block a writer and never see a
// partially-updated table: each refresh swaps the whole snapshot atomically.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{ModelOwners: map[string]Driver{}})
	return r
}

// Store publishes a new snapshot, replacing the old one atomically.
func (r *Registry) Store(s *Snapshot) {
	r.current.Store(s)
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Lookup returns the driver that owns model, and whether it was found.
func (r *Registry) Lookup(model string) (Driver, bool) {
	s := r.current.Load()
	d, ok := s.ModelOwners[model]
	return d, ok
}

// Models returns the sorted list of currently available model names.
func (r *Registry) Models() []string {
	return r.current.Load().Models
}

// Engines returns the engine descriptors of the current snapshot.
func (r *Registry) Engines() []shared.EngineInfo {
	return r.current.Load().Engines
}
