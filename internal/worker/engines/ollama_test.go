package engines

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestOllamaDriverProbeAndModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			w.Write([]byte(`{"version":"0.3.1"}`))
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"llama3"},{"name":"mistral"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	os.Setenv("OLLAMA_HOST", server.URL)
	defer os.Unsetenv("OLLAMA_HOST")

	d := NewOllamaDriver()
	ctx := context.Background()

	if !d.Probe(ctx) {
		t.Fatal("expected probe to succeed against a live server")
	}

	info, err := d.Info(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Type != "ollama" || info.Version != "0.3.1" || info.Port != 11434 {
		t.Fatalf("unexpected info: %+v", info)
	}

	models, err := d.Models(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 2 || models[0] != "llama3" || models[1] != "mistral" {
		t.Fatalf("unexpected models: %v", models)
	}
}

func TestOllamaDriverProbeFailsWhenUnreachable(t *testing.T) {
	os.Setenv("OLLAMA_HOST", "http://127.0.0.1:1")
	defer os.Unsetenv("OLLAMA_HOST")

	d := NewOllamaDriver()
	if d.Probe(context.Background()) {
		t.Fatal("expected probe against an unreachable host to fail")
	}
}
