package engines

import (
	"context"
	"testing"

	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

// fakeDriver is an in-memory Driver stand-in for registry merge tests.
type fakeDriver struct {
	name    string
	baseURL string
	models  []string
	info    shared.EngineInfo
}

func (f *fakeDriver) Name() string                           { return f.name }
func (f *fakeDriver) BaseURL() string                         { return f.baseURL }
func (f *fakeDriver) Probe(ctx context.Context) bool          { return true }
func (f *fakeDriver) Models(ctx context.Context) ([]string, error) {
	return f.models, nil
}
func (f *fakeDriver) Info(ctx context.Context) (shared.EngineInfo, error) {
	return f.info, nil
}

func TestBuildMergesByPriorityOrder(t *testing.T) {
	vllm := &fakeDriver{name: "vllm", baseURL: "http://vllm", models: []string{"llama3"}}
	ollama := &fakeDriver{name: "ollama", baseURL: "http://ollama", models: []string{"llama3", "mistral"}}

	// vllm is listed first (higher priority) and should win the shared
	// "llama3" claim.
	snapshot, err := Build(context.Background(), []Driver{vllm, ollama})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	owner, ok := snapshot.ModelOwners["llama3"]
	if !ok {
		t.Fatal("expected llama3 to be owned by someone")
	}
	if owner.Name() != "vllm" {
		t.Fatalf("expected vllm to win the llama3 conflict, got %s", owner.Name())
	}

	mistralOwner, ok := snapshot.ModelOwners["mistral"]
	if !ok || mistralOwner.Name() != "ollama" {
		t.Fatal("expected mistral to be owned by ollama")
	}

	if len(snapshot.Models) != 2 {
		t.Fatalf("expected 2 distinct models, got %d", len(snapshot.Models))
	}
}

func TestBuildSortsModelNames(t *testing.T) {
	d := &fakeDriver{name: "ollama", models: []string{"zeta", "alpha", "mu"}}
	snapshot, err := Build(context.Background(), []Driver{d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"alpha", "mu", "zeta"}
	for i, m := range want {
		if snapshot.Models[i] != m {
			t.Fatalf("expected sorted models %v, got %v", want, snapshot.Models)
		}
	}
}

func TestRegistryLookupAndStore(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("llama3"); ok {
		t.Fatal("expected empty registry to have no models")
	}

	d := &fakeDriver{name: "vllm", baseURL: "http://vllm", models: []string{"llama3"}}
	snapshot, err := Build(context.Background(), []Driver{d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Store(snapshot)

	owner, ok := r.Lookup("llama3")
	if !ok || owner.BaseURL() != "http://vllm" {
		t.Fatal("expected llama3 to resolve to the vllm driver after Store")
	}
}
