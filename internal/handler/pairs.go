package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rdrelay/internal/broker"
	"rdrelay/internal/registry"
)

// PairHandler exposes the active control pairs.
type PairHandler struct {
	Broker   *broker.Broker
	Registry *registry.Registry
}

func (h *PairHandler) List(c *gin.Context) {
	pairs := h.Broker.Pairs()
	resp := make([]gin.H, 0, len(pairs))
	for _, p := range pairs {
		entry := gin.H{"state": p.State}
		if !p.EstablishedAt.IsZero() {
			entry["established_at"] = p.EstablishedAt.UTC().Format(time.RFC3339)
		}
		if conn, ok := h.Registry.Get(p.ControllerID); ok {
			entry["controller"] = gin.H{"device_id": conn.DeviceID, "name": conn.Name}
		}
		if conn, ok := h.Registry.Get(p.ControlledID); ok {
			entry["controlled"] = gin.H{"device_id": conn.DeviceID, "name": conn.Name}
		}
		resp = append(resp, entry)
	}
	c.JSON(http.StatusOK, gin.H{"pairs": resp})
}
