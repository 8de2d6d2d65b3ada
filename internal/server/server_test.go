package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/logging"
)

func TestNewServesWithMemoryBackends(t *testing.T) {
	cfg := config.Config{AppName: "carelink-test", AppEnv: "development", TokenSecret: "s", BcryptCost: 4}
	srv, err := New(cfg, nil, nil, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/api/v1/me", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "SessionNotFound" {
		t.Fatalf("expected kinded error body, got %v", body)
	}
}

func TestNewRejectsProductionWithoutBackends(t *testing.T) {
	cfg := config.Config{AppName: "carelink", AppEnv: "production", TokenSecret: "s"}
	if _, err := New(cfg, nil, nil, logging.Discard()); err == nil {
		t.Fatal("expected error without postgres and redis")
	}
}
