package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(_ context.Context) error { return f.err }

func testUsage() *PoolUsage {
	return &PoolUsage{Total: 3, Idle: 2, Acquired: 1, Max: 10}
}

func callHealth(t *testing.T, p pinger) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h := healthHandler(p, testUsage, time.Second)
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	return rec, status
}

func TestHealthHandler_Healthy(t *testing.T) {
	rec, status := callHealth(t, fakePinger{})

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if status.Status != "healthy" {
		t.Errorf("status = %q, want healthy", status.Status)
	}
	if status.Error != "" {
		t.Errorf("unexpected error field: %q", status.Error)
	}
	if status.Storage == nil || status.Storage.Total != 3 {
		t.Errorf("storage usage not reported: %+v", status.Storage)
	}
}

func TestHealthHandler_StorageDown(t *testing.T) {
	rec, status := callHealth(t, fakePinger{err: errors.New("connection refused")})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", rec.Code)
	}
	if status.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", status.Status)
	}
	if status.Error != "connection refused" {
		t.Errorf("error = %q, want the ping failure", status.Error)
	}
}
