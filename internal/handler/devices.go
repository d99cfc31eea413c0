package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rdrelay/internal/registry"
	"rdrelay/internal/session"
)

// DeviceHandler exposes a read-only view of connected devices and
// controllers for dashboards and operational tooling.
type DeviceHandler struct {
	Registry *registry.Registry
	Sessions *session.Manager
}

func (h *DeviceHandler) List(c *gin.Context) {
	conns := h.Registry.Snapshot()
	resp := make([]gin.H, 0, len(conns))
	for _, conn := range conns {
		resp = append(resp, gin.H{
			"device_id":      conn.DeviceID,
			"name":           conn.Name,
			"role":           conn.Role,
			"status":         conn.Status,
			"capabilities":   conn.Capabilities,
			"registered_at":  conn.RegisteredAt.UTC().Format(time.RFC3339),
			"last_heartbeat": conn.LastHeartbeat.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": resp})
}

func (h *DeviceHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": h.Registry.Count(),
		"sessions":    h.Sessions.Count(),
	})
}
