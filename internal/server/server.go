package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tansu-cloud/gateway/internal/api/middleware"
	"github.com/tansu-cloud/gateway/internal/api/routes"
	"github.com/tansu-cloud/gateway/internal/config"
	"github.com/tansu-cloud/gateway/internal/proxy"
)

// Server runs the two gateway listeners: the data plane and the admin API.
type Server struct {
	Gateway *gin.Engine
	Admin   *gin.Engine
	cfg     config.Config
}

// New wires up both HTTP engines.
func New(cfg config.Config, pipeline *proxy.Pipeline, deps routes.Deps) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "development" {
		gin.SetMode(gin.DebugMode)
	}

	gateway := gin.New()
	gateway.Use(middleware.RequestID(), middleware.Recovery(cfg.Environment == "development"))
	if !cfg.TrustForwardedFor {
		_ = gateway.SetTrustedProxies(nil)
	}
	gateway.NoRoute(pipeline.Handle)

	admin := gin.New()
	admin.Use(middleware.RequestID(), middleware.RequestLogger(), middleware.Recovery(cfg.Environment == "development"))
	if err := routes.Register(admin, deps); err != nil {
		return nil, fmt.Errorf("register admin routes: %w", err)
	}

	return &Server{Gateway: gateway, Admin: admin, cfg: cfg}, nil
}

// Run starts both listeners and shuts them down gracefully when ctx ends.
func (s *Server) Run(ctx context.Context) error {
	gatewaySrv := &http.Server{Addr: fmt.Sprintf(":%s", s.cfg.GatewayPort), Handler: s.Gateway}
	adminSrv := &http.Server{Addr: fmt.Sprintf(":%s", s.cfg.AdminPort), Handler: s.Admin}

	errCh := make(chan error, 2)
	go func() { errCh <- gatewaySrv.ListenAndServe() }()
	go func() { errCh <- adminSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var firstErr error
		for _, srv := range []*http.Server{gatewaySrv, adminSrv} {
			if err := srv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("graceful shutdown: %w", err)
			}
		}
		return firstErr
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
