package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tansu-cloud/gateway/internal/version"
)

// Pinger is implemented by cache stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db        *gorm.DB
	cachePing Pinger // nil when the in-process store is used
}

func NewHealthHandler(db *gorm.DB, cachePing Pinger) *HealthHandler {
	return &HealthHandler{db: db, cachePing: cachePing}
}

// Live handles GET /health/live: process up, no dependency checks.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": version.Name,
		"version": version.Full(),
	})
}

// Ready handles GET /health/ready: dependency reachability gates traffic
// admission behind the load balancer.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		checks["policy_store"] = err.Error()
		ready = false
	} else {
		checks["policy_store"] = "ok"
	}

	if h.cachePing != nil {
		if err := h.cachePing.Ping(ctx); err != nil {
			checks["cache_store"] = err.Error()
			ready = false
		} else {
			checks["cache_store"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}
