package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/axiom/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

type downPinger struct{}

func (downPinger) Ping(context.Context, *readpref.ReadPref) error {
	return errors.New("connection refused")
}

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	r := chi.NewRouter()
	Mount(r, h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("%s: decode body: %v", path, err)
	}
	return rec, resp
}

func TestEndpoints_Healthy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := NewHandler(db.Client(), zap.NewNop())

	tests := []struct {
		path   string
		status string
	}{
		{"/health", "ok"},
		{"/ready", "ready"},
		{"/live", "alive"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, resp := serve(t, h, tt.path)
			if rec.Code != http.StatusOK {
				t.Errorf("status code = %d, want 200", rec.Code)
			}
			if resp.Status != tt.status {
				t.Errorf("status = %q, want %q", resp.Status, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}

	_, resp := serve(t, h, "/health")
	if resp.Services["mongodb"] != "ok" {
		t.Errorf("mongodb = %q, want ok", resp.Services["mongodb"])
	}
}

func TestEndpoints_DatabaseDown(t *testing.T) {
	h := NewHandler(downPinger{}, zap.NewNop())

	rec, resp := serve(t, h, "/health")
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "degraded" || resp.Services["mongodb"] != "unavailable" {
		t.Errorf("/health = %d %+v", rec.Code, resp)
	}

	rec, resp = serve(t, h, "/ready")
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "not ready" {
		t.Errorf("/ready = %d %+v", rec.Code, resp)
	}

	rec, _ = serve(t, h, "/live")
	if rec.Code != http.StatusOK {
		t.Errorf("/live = %d, want 200 without the database", rec.Code)
	}
}

func TestReady_Draining(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := NewHandler(db.Client(), zap.NewNop())
	h.Drain()

	rec, resp := serve(t, h, "/ready")
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "draining" {
		t.Errorf("/ready while draining = %d %+v", rec.Code, resp)
	}
	if rec, _ := serve(t, h, "/live"); rec.Code != http.StatusOK {
		t.Errorf("/live while draining = %d", rec.Code)
	}
}
