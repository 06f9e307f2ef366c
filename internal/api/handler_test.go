package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/parsnet/l2link/internal/config"
)

func setupTestRouter(t *testing.T, opts ...RouterOption) (http.Handler, *config.Store) {
	t.Helper()

	store, err := config.Open(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	handler := NewHandler(store)
	logger := zaptest.NewLogger(t)
	router := NewRouter(handler, logger, append([]RouterOption{WithLogging(false)}, opts...)...)

	return router, store
}

func doJSON(t *testing.T, router http.Handler, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store, err := config.Open(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	handler := NewHandler(store, WithClock(func() time.Time { return now }))
	router := NewRouter(handler, zaptest.NewLogger(t), WithLogging(false))

	rec := doJSON(t, router, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp %s, got %s", now, body.Timestamp)
	}
}

func TestPutRole(t *testing.T) {
	router, store := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodPut, "/api/role", map[string]string{"role": "IRAN"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := store.Role(); got != config.RoleIran {
		t.Fatalf("expected role IRAN in store, got %q", got)
	}

	rec = doJSON(t, router, http.MethodPut, "/api/role", map[string]string{"role": "ELSEWHERE"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for invalid role, got %d", rec.Code)
	}
	if got := store.Role(); got != config.RoleIran {
		t.Fatalf("rejected role must leave store unchanged, got %q", got)
	}
}

func TestPutEndpoints(t *testing.T) {
	router, store := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodPut, "/api/endpoints", map[string]string{
		"ip_iran":   "1.1.1.1",
		"ip_kharej": "2.2.2.2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if store.IPIran() != "1.1.1.1" || store.IPKharej() != "2.2.2.2" {
		t.Fatalf("endpoints not stored: %s / %s", store.IPIran(), store.IPKharej())
	}

	rec = doJSON(t, router, http.MethodPut, "/api/endpoints", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty payload, got %d", rec.Code)
	}
}

func TestPortEndpoints(t *testing.T) {
	router, store := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/ports", map[string]int{"port": 8080})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	// Re-adding is idempotent.
	rec = doJSON(t, router, http.MethodPost, "/api/ports", map[string]int{"port": 8080})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 on duplicate add, got %d", rec.Code)
	}

	var body struct {
		Ports []int `json:"ports"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Ports) != 1 || body.Ports[0] != 8080 {
		t.Fatalf("expected exactly one 8080, got %v", body.Ports)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/ports", map[string]int{"port": 70000})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for out-of-range port, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/ports/8080", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := store.ForwardedPorts(); len(got) != 0 {
		t.Fatalf("expected empty port list, got %v", got)
	}
}

func TestTunnelIDsEndpoint(t *testing.T) {
	router, store := setupTestRouter(t)
	if err := store.SetRole(config.RoleKharej); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/tunnel-ids", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var ids config.TunnelIDs
	if err := json.NewDecoder(rec.Body).Decode(&ids); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := config.TunnelIDs{TunnelID: 2000, PeerTunnelID: 1000, SessionID: 20, PeerSessionID: 10}
	if ids != want {
		t.Fatalf("expected %+v, got %+v", want, ids)
	}
}

func TestResetEndpoint(t *testing.T) {
	router, store := setupTestRouter(t)
	if err := store.SetRole(config.RoleIran); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetIPIran("1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Configured || body.Role != "" {
		t.Fatalf("expected unconfigured status after reset, got %+v", body)
	}
}

func TestPlanEndpoint(t *testing.T) {
	router, store := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/plan", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 before configuration, got %d", rec.Code)
	}

	if err := store.SetRole(config.RoleIran); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetIPIran("1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetIPKharej("2.2.2.2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/plan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Setup    [][]string `json:"setup"`
		Teardown [][]string `json:"teardown"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Setup) == 0 || len(body.Teardown) == 0 {
		t.Fatalf("expected non-empty setup and teardown plans")
	}
}

func TestGetConfigReturnsSnapshot(t *testing.T) {
	router, store := setupTestRouter(t)
	if err := store.SetIPIran("1.1.1.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var doc config.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if doc.IPIran == nil || *doc.IPIran != "1.1.1.1" {
		t.Fatalf("expected ip_iran in snapshot, got %+v", doc)
	}
	if doc.Role != nil {
		t.Fatalf("expected null role in snapshot")
	}
}
