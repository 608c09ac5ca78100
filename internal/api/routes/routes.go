package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/tansu-cloud/gateway/internal/api/handlers"
	"github.com/tansu-cloud/gateway/internal/api/middleware"
	"github.com/tansu-cloud/gateway/internal/auth"
	"github.com/tansu-cloud/gateway/internal/models"
	"github.com/tansu-cloud/gateway/internal/routing"
	"github.com/tansu-cloud/gateway/internal/services"
)

// Deps carries the shared components the admin API serves.
type Deps struct {
	DB        *gorm.DB
	Policies  *services.PolicyService
	Audit     *services.AuditService
	Table     *routing.Table
	Prober    *routing.Prober
	Verifier  *auth.Verifier
	CachePing handlers.Pinger
	Registry  *prometheus.Registry
}

// Register wires up the admin API and performs automatic migrations.
func Register(router *gin.Engine, deps Deps) error {
	if err := deps.DB.AutoMigrate(
		&models.Policy{},
		&models.AuditEvent{},
		&models.RouteTableRecord{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	health := handlers.NewHealthHandler(deps.DB, deps.CachePing)
	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)

	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	policyHandler := handlers.NewPolicyHandler(deps.Policies)
	auditHandler := handlers.NewAuditHandler(deps.Audit)
	routeHandler := handlers.NewRouteHandler(deps.Table, deps.Prober, deps.Audit)

	api := router.Group("/api/v1")

	api.GET("/policies", policyHandler.List)
	api.GET("/policies/:id", policyHandler.Get)
	api.GET("/audit", auditHandler.List)
	api.GET("/routes", routeHandler.List)
	api.GET("/routes/health", routeHandler.Health)

	elevated := api.Group("/")
	elevated.Use(middleware.AdminAuth(deps.Verifier))
	{
		elevated.POST("/policies", policyHandler.Upsert)
		elevated.DELETE("/policies/:id", policyHandler.Delete)
		elevated.POST("/routes", routeHandler.Replace)
		elevated.POST("/routes/rollback", routeHandler.Rollback)
	}

	return nil
}
