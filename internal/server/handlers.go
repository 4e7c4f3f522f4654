package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/price-alerts/internal/connection"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type healthResponse struct {
	Status     string            `json:"status"`
	Version    map[string]string `json:"version,omitempty"`
	Components map[string]any    `json:"components"`
}

// handleHealth reports component status. A disconnected upstream only
// degrades the gateway since polling keeps prices flowing; an unreachable
// database makes it unhealthy.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	health := healthResponse{
		Status:     StatusHealthy,
		Version:    s.deps.Version,
		Components: make(map[string]any),
	}

	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(ctx); err != nil {
			health.Status = StatusUnhealthy
			health.Components["database"] = gin.H{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}
	}

	if s.deps.Upstream != nil {
		state := s.deps.Upstream.State()
		health.Components["upstream"] = gin.H{
			"state": state.String(),
			"stats": s.deps.Upstream.Stats(),
		}
		if state != connection.StateConnected && health.Status == StatusHealthy {
			health.Status = StatusDegraded
		}
	}

	snap := s.deps.Registry.Snapshot()
	health.Components["registry"] = gin.H{
		"clients":        snap.Clients,
		"upstream":       len(snap.Upstream),
		"alert_symbols":  len(snap.AlertSymbols),
		"refresh_errors": snap.RefreshErrors,
	}
	health.Components["sessions"] = s.deps.Sessions.Stats()

	if s.deps.Router != nil {
		health.Components["router"] = s.deps.Router.Stats()
	}
	if s.deps.Poller != nil {
		health.Components["poller"] = s.deps.Poller.Stats()
	}
	if s.deps.Evaluator != nil {
		health.Components["evaluator"] = s.deps.Evaluator.Stats()
	}

	code := http.StatusOK
	if health.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

func (s *Server) handleSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Registry.Snapshot())
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.deps.Registry.RequestRefresh()
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh scheduled"})
}
