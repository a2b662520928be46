package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boonlink/promptpay-bridge/internal/tools"
)

func TestHealthRoute(t *testing.T) {
	h := NewHandler(&tools.Orchestrator{}, nil)
	srv := NewServer(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestScanQRRouteRejectsBadJSON(t *testing.T) {
	h := NewHandler(&tools.Orchestrator{}, nil)
	srv := NewServer(h)

	req := httptest.NewRequest(http.MethodPost, "/tools/scan_promptpay_qr", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing body, got %d", rec.Code)
	}
}

func TestForceSyncWithoutCoordinator(t *testing.T) {
	h := NewHandler(&tools.Orchestrator{}, nil)
	srv := NewServer(h)

	req := httptest.NewRequest(http.MethodPost, "/sync/force", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a sync coordinator, got %d", rec.Code)
	}
}
