package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tansu-cloud/gateway/internal/api/middleware"
	"github.com/tansu-cloud/gateway/internal/models"
	"github.com/tansu-cloud/gateway/internal/services"
)

type PolicyHandler struct {
	service *services.PolicyService
}

func NewPolicyHandler(service *services.PolicyService) *PolicyHandler {
	return &PolicyHandler{service: service}
}

// List handles GET /api/v1/policies
func (h *PolicyHandler) List(c *gin.Context) {
	policies, err := h.service.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, policies)
}

// Get handles GET /api/v1/policies/:id
func (h *PolicyHandler) Get(c *gin.Context) {
	policy, err := h.service.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrPolicyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, policy)
}

// Upsert handles POST /api/v1/policies. The body is a Policy minus
// timestamps; posting the same id again replaces config/mode/enabled.
func (h *PolicyHandler) Upsert(c *gin.Context) {
	var incoming models.Policy
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, created, err := h.service.Upsert(middleware.Actor(c), &incoming)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, policy)
}

// Delete handles DELETE /api/v1/policies/:id
func (h *PolicyHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(middleware.Actor(c), c.Param("id")); err != nil {
		if errors.Is(err, services.ErrPolicyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// AuditHandler surfaces recent admin mutation events for the dashboard.
type AuditHandler struct {
	service *services.AuditService
}

func NewAuditHandler(service *services.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List handles GET /api/v1/audit
func (h *AuditHandler) List(c *gin.Context) {
	events, err := h.service.List(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}
