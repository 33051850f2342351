package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

type fakeStoreForHealth struct {
	*fakeStore
	pingFn func(context.Context) error
}

func (f *fakeStoreForHealth) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr, response := doJSON(t, server, http.MethodGet, "/api/health", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr, response := doJSON(t, server, http.MethodGet, "/api/ready", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if status, exists := response["status"]; !exists || status != "ready" {
		t.Errorf("expected status=ready, got %v", status)
	}
	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks object, got %v", response["checks"])
	}
	dbCheck, ok := checks["database"].(map[string]any)
	if !ok {
		t.Fatalf("expected database check, got %v", checks["database"])
	}
	if dbStatus := dbCheck["status"]; dbStatus != "ok" {
		t.Errorf("expected database status=ok, got %v", dbStatus)
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	fs := &fakeStoreForHealth{
		fakeStore: newFakeStore(),
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	svc := newTestService(fs.fakeStore)
	svc.store = fs
	server := NewHTTPServer(svc, "*")

	rr, response := doJSON(t, server, http.MethodGet, "/api/ready", "", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	if ok := response["ok"]; ok != false {
		t.Errorf("expected ok=false, got %v", ok)
	}
	if status := response["status"]; status != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", status)
	}
}

type fakeSessionStoreForHealth struct {
	*fakeStore
	pingFn func(context.Context) error
}

func (f *fakeSessionStoreForHealth) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func TestReadyEndpoint_ChecksSeparateSessionStore(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.sessions = &fakeSessionStoreForHealth{fakeStore: newFakeStore()}
	server := NewHTTPServer(svc, "*")

	rr, response := doJSON(t, server, http.MethodGet, "/api/ready", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	checks, _ := response["checks"].(map[string]any)
	redisCheck, ok := checks["redis"].(map[string]any)
	if !ok {
		t.Fatalf("expected redis check, got %v", checks["redis"])
	}
	if redisStatus := redisCheck["status"]; redisStatus != "ok" {
		t.Errorf("expected redis status=ok, got %v", redisStatus)
	}
}

func TestReadyEndpoint_SessionStoreFailure(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.sessions = &fakeSessionStoreForHealth{
		fakeStore: newFakeStore(),
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	server := NewHTTPServer(svc, "*")

	rr, response := doJSON(t, server, http.MethodGet, "/api/ready", "", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	if status := response["status"]; status != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", status)
	}
	checks, _ := response["checks"].(map[string]any)
	dbCheck, _ := checks["database"].(map[string]any)
	if dbStatus := dbCheck["status"]; dbStatus != "ok" {
		t.Errorf("database check must stay ok, got %v", dbStatus)
	}
	redisCheck, ok := checks["redis"].(map[string]any)
	if !ok {
		t.Fatalf("expected redis check, got %v", checks["redis"])
	}
	if redisStatus := redisCheck["status"]; redisStatus != "error" {
		t.Errorf("expected redis status=error, got %v", redisStatus)
	}
}
