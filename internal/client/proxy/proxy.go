// Package proxy implements the client's local OpenAI-compatible broker: it
// authorizes each request against the coordinator, then forwards it to the
// worker the coordinator assigned. Grounded on the original implementation's
// client/src/proxy.rs.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/100monkeys-ai/monkey-troop/internal/logging"
	"github.com/100monkeys-ai/monkey-troop/internal/middleware"
	"github.com/100monkeys-ai/monkey-troop/internal/shared"
	"github.com/100monkeys-ai/monkey-troop/internal/shared/retry"
)

// Server is the client's local HTTP surface.
type Server struct {
	coordinatorURL string
	requesterID    string
	log            *logging.Logger
	metrics        *middleware.Metrics
	authClient     *http.Client
	workerClient   *http.Client
	modelsClient   *http.Client
}

// NewServer builds a client proxy server.
func NewServer(coordinatorURL, requesterID string, log *logging.Logger, metrics *middleware.Metrics) *Server {
	return &Server{
		coordinatorURL: coordinatorURL,
		requesterID:    requesterID,
		log:            log,
		metrics:        metrics,
		authClient:     &http.Client{Timeout: shared.AuthTimeout},
		workerClient:   &http.Client{Timeout: shared.InferenceTimeout},
		modelsClient:   &http.Client{Timeout: shared.AuthTimeout},
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(s.log))
	router.Use(middleware.Logging(s.log))
	if s.metrics != nil {
		router.Use(middleware.HTTPMetrics(s.metrics))
	}

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/v1/models", s.handleModels).Methods(http.MethodGet)
	router.HandleFunc("/v1/chat/completions", s.handleChatCompletions).Methods(http.MethodPost)

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "monkey-troop-client",
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.coordinatorURL+"/v1/models", nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build request")
		return
	}
	resp, err := s.modelsClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "coordinator unavailable")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to read coordinator response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// handleChatCompletions runs the two-phase broker: authorize against the
// coordinator, then forward to the assigned worker. Both phases are wrapped
// in retry.WithBackoff per spec.md's retry policy.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req shared.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	auth, err := retry.WithBackoff(r.Context(), s.log, "authorize", func(ctx context.Context) (*shared.AuthorizeResponse, error) {
		return s.authorize(ctx, req.Model)
	})
	if err != nil {
		writeTroopError(w, err)
		return
	}

	resp, err := retry.WithBackoff(r.Context(), s.log, "send_to_worker", func(ctx context.Context) (*http.Response, error) {
		return s.sendToWorker(ctx, auth, body)
	})
	if err != nil {
		writeTroopError(w, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to read worker response")
		return
	}
	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func (s *Server) authorize(ctx context.Context, model string) (*shared.AuthorizeResponse, error) {
	payload, err := json.Marshal(shared.AuthorizeRequest{Model: model, Requester: s.requesterID})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, shared.AuthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.coordinatorURL+"/authorize", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.authClient.Do(httpReq)
	if err != nil {
		return nil, shared.NewNetworkError("authorize", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, shared.ErrNoNodesAvailable
	}
	if resp.StatusCode != http.StatusOK {
		return nil, shared.NewAuthError(fmt.Sprintf("coordinator rejected authorization: %d", resp.StatusCode))
	}

	var out shared.AuthorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode authorize response: %w", err)
	}
	return &out, nil
}

func (s *Server) sendToWorker(ctx context.Context, auth *shared.AuthorizeResponse, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, shared.InferenceTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:8080/v1/chat/completions", auth.TargetIP)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+auth.Token)

	start := time.Now()
	resp, err := s.workerClient.Do(httpReq)
	s.log.LogServiceCall(ctx, auth.TargetIP, "send_to_worker", time.Since(start), err)
	if err != nil {
		return nil, shared.NewWorkerUnavailableError(err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, shared.NewWorkerUnavailableError(fmt.Sprintf("worker returned %d", resp.StatusCode))
	}
	return resp, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeTroopError(w http.ResponseWriter, err error) {
	if te, ok := err.(*shared.TroopError); ok {
		writeError(w, te.Kind.HTTPStatus(), te.Error())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}
