package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

// Pinger reports dependency liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type statusHandler struct {
	store  store.Store
	cache  Pinger
	logger *slog.Logger
	now    func() time.Time
}

type statusResponse struct {
	Status   string    `json:"status"`
	HasUsers bool      `json:"has_users"`
	Store    string    `json:"store"`
	Cache    string    `json:"cache"`
	Time     time.Time `json:"time"`
}

// status tells an unauthenticated client whether the system is initialised,
// so a sign-up page can tell the first registrant apart.
func (h *statusHandler) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: "ok", Store: "ok", Cache: "disabled", Time: h.now().UTC()}
	_, total, err := h.store.ListUsers(r.Context(), store.UserFilter{Limit: 1})
	if err != nil {
		h.logger.Error("system status", slog.Any("error", err))
		resp.Status = "degraded"
		resp.Store = "unavailable"
	}
	resp.HasUsers = total > 0
	if h.cache != nil {
		resp.Cache = "ok"
		if err := h.cache.Ping(r.Context()); err != nil {
			h.logger.Warn("system status cache", slog.Any("error", err))
			resp.Cache = "unavailable"
		}
	}
	code := http.StatusOK
	if resp.Store != "ok" {
		code = http.StatusServiceUnavailable
	}
	httpx.JSON(w, code, resp)
}

func (h *statusHandler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check", slog.Any("error", err))
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
