package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

// OllamaDriver talks to a local Ollama server, grounded on the original
// implementation's worker/src/engines/ollama.rs.
type OllamaDriver struct {
	baseURL string
	client  *http.Client
}

// NewOllamaDriver builds a driver pointed at OLLAMA_HOST, defaulting to
// http://localhost:11434.
func NewOllamaDriver() *OllamaDriver {
	base := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
	if base == "" {
		base = "http://localhost:11434"
	}
	return &OllamaDriver{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: ProbeTimeout},
	}
}

func (d *OllamaDriver) Name() string    { return "ollama" }
func (d *OllamaDriver) BaseURL() string { return d.baseURL }

func (d *OllamaDriver) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *OllamaDriver) Info(ctx context.Context) (shared.EngineInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/version", nil)
	if err != nil {
		return shared.EngineInfo{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return shared.EngineInfo{}, shared.NewNetworkError("ollama", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return shared.EngineInfo{}, fmt.Errorf("decode ollama version: %w", err)
	}

	return shared.EngineInfo{Type: "ollama", Version: payload.Version, Port: 11434}, nil
}

func (d *OllamaDriver) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, shared.NewNetworkError("ollama", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}

	names := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
