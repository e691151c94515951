package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

// LMStudioDriver talks to a local LM Studio server, grounded on the original
// implementation's worker/src/engines/lmstudio.rs. LM Studio has no env
// override in the original either, so none is added here.
type LMStudioDriver struct {
	baseURL string
	client  *http.Client
}

// NewLMStudioDriver builds a driver pointed at http://localhost:1234.
func NewLMStudioDriver() *LMStudioDriver {
	return &LMStudioDriver{
		baseURL: "http://localhost:1234",
		client:  &http.Client{Timeout: ProbeTimeout},
	}
}

func (d *LMStudioDriver) Name() string    { return "lmstudio" }
func (d *LMStudioDriver) BaseURL() string { return d.baseURL }

func (d *LMStudioDriver) Probe(ctx context.Context) bool {
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

// Info returns a fixed descriptor; LM Studio's API exposes no version
// endpoint.
func (d *LMStudioDriver) Info(ctx context.Context) (shared.EngineInfo, error) {
	return shared.EngineInfo{Type: "lmstudio", Version: "unknown", Port: 1234}, nil
}

func (d *LMStudioDriver) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, shared.NewNetworkError("lmstudio", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode lmstudio models: %w", err)
	}

	ids := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
