package engines

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

// VllmDriver talks to a local vLLM OpenAI-compatible server, grounded on the
// original implementation's worker/src/engines/vllm.rs.
type VllmDriver struct {
	baseURL string
	client  *http.Client
}

// NewVllmDriver builds a driver pointed at VLLM_HOST, defaulting to
// http://localhost:8000.
func NewVllmDriver() *VllmDriver {
	base := strings.TrimSpace(os.Getenv("VLLM_HOST"))
	if base == "" {
		base = "http://localhost:8000"
	}
	return &VllmDriver{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: ProbeTimeout},
	}
}

func (d *VllmDriver) Name() string    { return "vllm" }
func (d *VllmDriver) BaseURL() string { return d.baseURL }

func (d *VllmDriver) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/v1/models", nil)
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

// Info reports the vLLM server version. It records the first non-blank line
// of the /health response body as the version, or "unknown" when the body is
// empty (vLLM's /health normally answers with an empty 200). The response
// status code is not checked; only a transport failure returns an error.
func (d *VllmDriver) Info(ctx context.Context) (shared.EngineInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return shared.EngineInfo{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return shared.EngineInfo{}, shared.NewNetworkError("vllm", err)
	}
	defer resp.Body.Close()

	version := "unknown"
	scanner := bufio.NewScanner(resp.Body)
	if scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			version = line
		}
	}

	return shared.EngineInfo{Type: "vllm", Version: version, Port: 8000}, nil
}

func (d *VllmDriver) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, shared.NewNetworkError("vllm", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode vllm models: %w", err)
	}

	ids := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
