package proxy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/100monkeys-ai/monkey-troop/internal/logging"
	"github.com/100monkeys-ai/monkey-troop/internal/shared"
	"github.com/100monkeys-ai/monkey-troop/internal/worker/engines"
)

type fakeDriver struct {
	baseURL string
}

func (f *fakeDriver) Name() string                  { return "fake" }
func (f *fakeDriver) BaseURL() string                { return f.baseURL }
func (f *fakeDriver) Probe(ctx context.Context) bool { return true }
func (f *fakeDriver) Models(ctx context.Context) ([]string, error) {
	return []string{"llama3"}, nil
}
func (f *fakeDriver) Info(ctx context.Context) (shared.EngineInfo, error) {
	return shared.EngineInfo{Type: "fake", Version: "1", Port: 1234}, nil
}

func newTestServer(t *testing.T, engineURL string) (*Server, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	registry := engines.NewRegistry()
	snapshot, err := engines.Build(context.Background(), []engines.Driver{&fakeDriver{baseURL: engineURL}})
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	registry.Store(snapshot)

	s := &Server{
		registry:  registry,
		log:       logging.New("test", "fatal", "json"),
		client:    &http.Client{Timeout: 5 * time.Second},
		publicKey: &rsaKeyHolder{key: &key.PublicKey},
	}
	return s, key
}

func signTicket(t *testing.T, key *rsa.PrivateKey, audience string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := ticketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "requester-1",
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign ticket: %v", err)
	}
	return signed
}

func TestHandlerRejectsMissingTicket(t *testing.T) {
	s, _ := newTestServer(t, "http://unused")
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestHandlerRejectsWrongAudience(t *testing.T) {
	s, key := newTestServer(t, "http://unused")
	ticket := signTicket(t, key, "some-other-audience", false)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer "+ticket)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong audience, got %d", w.Code)
	}
}

func TestHandlerRejectsExpiredTicket(t *testing.T) {
	s, key := newTestServer(t, "http://unused")
	ticket := signTicket(t, key, shared.WorkerAudience, true)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer "+ticket)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired ticket, got %d", w.Code)
	}
}

func TestHandlerReturns404ForUnknownModel(t *testing.T) {
	s, key := newTestServer(t, "http://unused")
	ticket := signTicket(t, key, shared.WorkerAudience, false)

	body := `{"model":"does-not-exist","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+ticket)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown model, got %d", w.Code)
	}
}

func TestHandlerForwardsBufferedResponse(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cmpl-1","choices":[]}`))
	}))
	defer engine.Close()

	s, key := newTestServer(t, engine.URL)
	ticket := signTicket(t, key, shared.WorkerAudience, false)

	body := `{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+ticket)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
