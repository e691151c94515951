package shared

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestErrorKindRetriable(t *testing.T) {
	retriable := []ErrorKind{KindNetwork, KindTimeout, KindWorkerUnavailable, KindCircuitBreakerOpen}
	for _, k := range retriable {
		if !k.Retriable() {
			t.Errorf("expected %s to be retriable", k)
		}
	}

	notRetriable := []ErrorKind{KindAuth, KindNoNodesAvailable, KindInvalidRequest, KindInternal}
	for _, k := range notRetriable {
		if k.Retriable() {
			t.Errorf("expected %s to not be retriable", k)
		}
	}
}

func TestErrorKindHTTPStatus(t *testing.T) {
	if KindAuth.HTTPStatus() != http.StatusUnauthorized {
		t.Errorf("expected 401 for KindAuth")
	}
	if KindInvalidRequest.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("expected 400 for KindInvalidRequest")
	}
	if KindNoNodesAvailable.HTTPStatus() != http.StatusBadGateway {
		t.Errorf("expected 502 for KindNoNodesAvailable")
	}
}

func TestTroopErrorUnwraps(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	wrapped := NewNetworkError("heartbeat", inner)

	if !errors.Is(wrapped, inner) {
		t.Fatal("expected errors.Is to see through TroopError to the wrapped error")
	}
}

func TestTroopErrorMessageIncludesKind(t *testing.T) {
	err := NewAuthError("bad ticket")
	if !strings.Contains(err.Error(), KindAuth.String()) {
		t.Fatalf("expected error message to include kind %q, got %q", KindAuth.String(), err.Error())
	}
}
