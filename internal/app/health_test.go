package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"warbler/internal/config"
)

func newTestServiceWithHealth(fs *fakeStore, sessions *fakeSessions) *Service {
	cfg := config.Config{SecretKey: "test-secret", BcryptCost: bcrypt.MinCost}
	return New(cfg, fs, sessions, &fakeSearch{})
}

func serveReady(t *testing.T, svc *Service) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	server := NewHTTPServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rr, response
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestServiceWithHealth(&fakeStore{}, newFakeSessions())
	server := NewHTTPServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestHealthEndpointEchoesRequestID(t *testing.T) {
	server := NewHTTPServer(newTestServiceWithHealth(&fakeStore{}, newFakeSessions()))

	req := httptest.NewRequest(http.MethodHead, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	svc := newTestServiceWithHealth(&fakeStore{}, newFakeSessions())

	rr, response := serveReady(t, svc)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if response["ok"] != true {
		t.Errorf("expected ok=true, got %v", response["ok"])
	}
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}

	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks object, got %T", response["checks"])
	}
	for _, name := range []string{"database", "sessions"} {
		check, ok := checks[name].(map[string]any)
		if !ok || check["status"] != "ok" {
			t.Errorf("expected %s check ok, got %v", name, checks[name])
		}
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	rr, response := serveReady(t, newTestServiceWithHealth(fs, newFakeSessions()))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	if response["ok"] != false {
		t.Errorf("expected ok=false, got %v", response["ok"])
	}
	if response["status"] != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", response["status"])
	}

	checks := response["checks"].(map[string]any)
	dbCheck := checks["database"].(map[string]any)
	if dbCheck["status"] != "error" || dbCheck["error"] != "connection refused" {
		t.Errorf("unexpected database check %v", dbCheck)
	}
	sessionCheck := checks["sessions"].(map[string]any)
	if sessionCheck["status"] != "ok" {
		t.Errorf("expected sessions ok, got %v", sessionCheck)
	}
}

func TestReadyEndpoint_SessionStoreFailure(t *testing.T) {
	sessions := newFakeSessions()
	sessions.pingFn = func(context.Context) error {
		return errors.New("redis unavailable")
	}
	rr, response := serveReady(t, newTestServiceWithHealth(&fakeStore{}, sessions))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	checks := response["checks"].(map[string]any)
	sessionCheck := checks["sessions"].(map[string]any)
	if sessionCheck["status"] != "error" {
		t.Errorf("expected sessions error, got %v", sessionCheck)
	}
}

func TestReadyEndpointRejectsPost(t *testing.T) {
	server := NewHTTPServer(newTestServiceWithHealth(&fakeStore{}, newFakeSessions()))

	req := httptest.NewRequest(http.MethodPost, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown route, got %d", rr.Code)
	}
}
