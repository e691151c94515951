// Package proxy implements the worker's inbound inference endpoint: ticket
// verification followed by a streaming-aware reverse proxy into whichever
// local engine owns the requested model. Grounded on the original
// implementation's worker/src/proxy.rs, with the JWT verification shaped
// after the teacher's infrastructure/middleware/serviceauth.go.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/100monkeys-ai/monkey-troop/internal/logging"
	"github.com/100monkeys-ai/monkey-troop/internal/middleware"
	"github.com/100monkeys-ai/monkey-troop/internal/shared"
	"github.com/100monkeys-ai/monkey-troop/internal/worker/engines"
)

// ticketClaims mirrors shared.TicketClaims but embeds jwt.RegisteredClaims
// so golang-jwt can validate exp/aud itself instead of this package
// re-implementing expiry and audience checks by hand.
type ticketClaims struct {
	jwt.RegisteredClaims
}

// Server is the worker's inbound HTTP surface.
type Server struct {
	registry  *engines.Registry
	log       *logging.Logger
	metrics   *middleware.Metrics
	client    *http.Client
	publicKey *rsaKeyHolder
}

// rsaKeyHolder guards the coordinator's RSA public key behind a mutex so a
// future key-rotation path could refresh it without restarting the process.
type rsaKeyHolder struct {
	mu  sync.RWMutex
	key any
}

func (h *rsaKeyHolder) get() any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key
}

func (h *rsaKeyHolder) set(key any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.key = key
}

// NewServer builds a worker proxy server. It fetches the coordinator's RSA
// public key before returning; a failure here is fatal, matching the
// original's startup behavior (a worker that cannot verify tickets cannot
// safely serve requests).
func NewServer(ctx context.Context, coordinatorURL string, registry *engines.Registry, log *logging.Logger, metrics *middleware.Metrics) (*Server, error) {
	client := &http.Client{Timeout: shared.InferenceTimeout}

	keyCtx, cancel := context.WithTimeout(ctx, shared.PublicKeyTimeout)
	defer cancel()

	key, err := fetchPublicKey(keyCtx, coordinatorURL)
	if err != nil {
		return nil, fmt.Errorf("fetch coordinator public key: %w", err)
	}

	return &Server{
		registry:  registry,
		log:       log,
		metrics:   metrics,
		client:    client,
		publicKey: &rsaKeyHolder{key: key},
	}, nil
}

func fetchPublicKey(ctx context.Context, coordinatorURL string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coordinatorURL+"/public-key", nil)
	if err != nil {
		return nil, err
	}
	resp, err := (&http.Client{Timeout: shared.PublicKeyTimeout}).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator returned %d fetching public key", resp.StatusCode)
	}

	pem, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return jwt.ParseRSAPublicKeyFromPEM(pem)
}

// Handler builds the router: ticket verification guards every route.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(s.log))
	router.Use(middleware.Logging(s.log))
	if s.metrics != nil {
		router.Use(middleware.HTTPMetrics(s.metrics))
	}
	router.Use(s.verifyTicket)

	router.HandleFunc("/v1/chat/completions", s.handleInference).Methods(http.MethodPost)
	router.PathPrefix("/").HandlerFunc(s.handleInference).Methods(http.MethodPost)

	return router
}

// verifyTicket requires a valid RS256 ticket with audience "troop-worker" on
// every request, grounded on the teacher's ServiceAuthMiddleware pattern
// but trimmed to the ticket model spec.md defines: no issuer check, no
// service allowlist, no token cache.
func (s *Server) verifyTicket(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer ticket")
			return
		}
		raw := strings.TrimPrefix(authHeader, "Bearer ")

		if s.publicKey.get() == nil {
			s.log.WithContext(r.Context()).Error("no coordinator public key loaded, cannot verify ticket")
			writeError(w, http.StatusInternalServerError, "ticket verification unavailable")
			return
		}

		claims := &ticketClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.publicKey.get(), nil
		}, jwt.WithAudience(shared.WorkerAudience))
		if err != nil || !token.Valid {
			s.log.WithContext(r.Context()).WithError(err).Warn("ticket rejected")
			writeError(w, http.StatusUnauthorized, "invalid or expired ticket")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleInference forwards the request body to the engine that owns the
// requested model, relaying a streaming response verbatim and buffering a
// non-streaming one.
func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var parsed shared.ChatCompletionRequest
	if err := json.Unmarshal(body, &parsed); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if parsed.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	driver, ok := s.registry.Lookup(parsed.Model)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("model %q not found on this node", parsed.Model))
		return
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, driver.BaseURL()+r.URL.Path, strings.NewReader(string(body)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	upstreamReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(upstreamReq)
	s.log.LogServiceCall(r.Context(), driver.BaseURL(), "inference", time.Since(start), err)
	if err != nil {
		writeError(w, http.StatusBadGateway, "engine unavailable")
		return
	}
	defer resp.Body.Close()

	if parsed.Stream {
		relayStream(w, resp)
		return
	}
	relayBuffered(w, resp)
}

func relayStream(w http.ResponseWriter, resp *http.Response) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func relayBuffered(w http.ResponseWriter, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to read engine response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
