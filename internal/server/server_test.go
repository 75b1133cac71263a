package server

import (
	"net/http/httptest"
	"testing"

	"backend-routewars/internal/config"
)

func TestHealthRoute(t *testing.T) {
	s := NewServer(config.Config{ServerPort: ":0"}, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestRoutesMounted(t *testing.T) {
	s := NewServer(config.Config{ServerPort: ":0"}, nil, nil)

	// Missing user_id hits the handler, not a 404.
	req := httptest.NewRequest("GET", "/routes/active", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 from mounted route handler, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/territories/", nil)
	resp, err = s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 from mounted territory handler, got %d", resp.StatusCode)
	}
}
