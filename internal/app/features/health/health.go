// internal/app/features/health/health.go
package health

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/dalemusser/axiom/internal/app/system/jsonutil"
	"github.com/dalemusser/axiom/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Pinger reports whether the database answers. *mongo.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// Handler provides health check endpoints.
type Handler struct {
	db       Pinger
	draining atomic.Bool
	logger   *zap.Logger
}

// NewHandler creates a new health check Handler.
func NewHandler(db Pinger, logger *zap.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

// Response is the body of every health endpoint.
type Response struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// Drain marks the process as shutting down. Readiness fails from then on so
// load balancers stop routing new requests while in-flight ones finish.
func (h *Handler) Drain() {
	h.draining.Store(true)
}

// Mount adds /health, /ready and /live to the root router.
func Mount(r chi.Router, h *Handler) {
	r.Get("/health", h.Check)
	r.Get("/ready", h.Ready)
	r.Get("/live", h.Live)
}

// Check reports database connectivity; 503 when MongoDB does not answer.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	resp := Response{Status: "ok", Services: map[string]string{"mongodb": "ok"}}
	if err := h.ping(r); err != nil {
		h.logger.Warn("health check: mongodb ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Services["mongodb"] = "unavailable"
		jsonutil.JSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	jsonutil.OK(w, resp)
}

// Ready is the readiness probe: the database answers and the process is not
// draining.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		jsonutil.JSON(w, http.StatusServiceUnavailable, Response{Status: "draining"})
		return
	}
	if err := h.ping(r); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		jsonutil.JSON(w, http.StatusServiceUnavailable, Response{Status: "not ready"})
		return
	}
	jsonutil.OK(w, Response{Status: "ready"})
}

// Live is the liveness probe. It touches nothing external.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	jsonutil.OK(w, Response{Status: "alive"})
}

func (h *Handler) ping(r *http.Request) error {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "health ping")
	defer cancel()
	return h.db.Ping(ctx, readpref.Primary())
}
