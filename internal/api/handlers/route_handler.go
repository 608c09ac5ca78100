package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tansu-cloud/gateway/internal/api/middleware"
	"github.com/tansu-cloud/gateway/internal/routing"
	"github.com/tansu-cloud/gateway/internal/services"
)

type RouteHandler struct {
	table  *routing.Table
	prober *routing.Prober
	audit  *services.AuditService
}

func NewRouteHandler(table *routing.Table, prober *routing.Prober, audit *services.AuditService) *RouteHandler {
	return &RouteHandler{table: table, prober: prober, audit: audit}
}

// List handles GET /api/v1/routes
func (h *RouteHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.table.Routes())
}

// Replace handles POST /api/v1/routes: the body is the complete route table,
// applied atomically.
func (h *RouteHandler) Replace(c *gin.Context) {
	var routes []routing.Route
	if err := c.ShouldBindJSON(&routes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.table.Replace(routes); err != nil {
		if errors.Is(err, routing.ErrInvalidRoute) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.recordAudit(c, "route_replace")
	c.JSON(http.StatusOK, h.table.Routes())
}

// Rollback handles POST /api/v1/routes/rollback: restores the table prior to
// the last successful replace.
func (h *RouteHandler) Rollback(c *gin.Context) {
	if err := h.table.Rollback(); err != nil {
		if errors.Is(err, routing.ErrNoSnapshot) {
			c.JSON(http.StatusConflict, gin.H{"error": "no rollback snapshot available"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.recordAudit(c, "route_rollback")
	c.JSON(http.StatusOK, h.table.Routes())
}

// Health handles GET /api/v1/routes/health: latest advisory probe results.
func (h *RouteHandler) Health(c *gin.Context) {
	results := h.prober.Results()
	if results == nil {
		results = h.prober.ProbeAll()
	}
	c.JSON(http.StatusOK, results)
}

func (h *RouteHandler) recordAudit(c *gin.Context, action string) {
	if err := h.audit.Record(middleware.Actor(c), action, "", "", ""); err != nil {
		middleware.GetRequestLogger(c).WithError(err).Warn("audit record failed")
	}
}
