package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/permd/internal/service"
	"github.com/victorivanov/permd/internal/store"
)

// UpstreamStatus reports the state of the upstream event stream.
type UpstreamStatus interface {
	Connected() bool
	Ready() bool
	SessionID() string
}

// HealthHandler reports whether the mirror can answer queries.
type HealthHandler struct {
	snapshots service.SnapshotProvider
	upstream  UpstreamStatus // nil when no upstream is configured
}

// NewHealthHandler creates a HealthHandler. upstream may be nil.
func NewHealthHandler(snapshots service.SnapshotProvider, upstream UpstreamStatus) *HealthHandler {
	return &HealthHandler{snapshots: snapshots, upstream: upstream}
}

type upstreamHealth struct {
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
	SessionID string `json:"session_id,omitempty"`
}

type healthResponse struct {
	Status   string          `json:"status"`
	Epoch    string          `json:"epoch"`
	Mirror   store.Stats     `json:"mirror"`
	Upstream *upstreamHealth `json:"upstream,omitempty"`
}

// Health handles GET /health. It answers 503 until the mirror holds data.
func (h *HealthHandler) Health(c echo.Context) error {
	snap := h.snapshots.Snapshot()
	resp := healthResponse{Status: "ok", Epoch: snap.Epoch, Mirror: snap.Stats()}
	if h.upstream != nil {
		resp.Upstream = &upstreamHealth{
			Connected: h.upstream.Connected(),
			Ready:     h.upstream.Ready(),
			SessionID: h.upstream.SessionID(),
		}
	}

	status := http.StatusOK
	if snap.Version == 0 {
		resp.Status = "starting"
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}
