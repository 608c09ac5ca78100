package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tansu-cloud/gateway/internal/alert"
	"github.com/tansu-cloud/gateway/internal/api/handlers"
	"github.com/tansu-cloud/gateway/internal/api/routes"
	"github.com/tansu-cloud/gateway/internal/auth"
	"github.com/tansu-cloud/gateway/internal/cache"
	"github.com/tansu-cloud/gateway/internal/config"
	"github.com/tansu-cloud/gateway/internal/database"
	"github.com/tansu-cloud/gateway/internal/logger"
	"github.com/tansu-cloud/gateway/internal/metrics"
	"github.com/tansu-cloud/gateway/internal/policy"
	"github.com/tansu-cloud/gateway/internal/proxy"
	"github.com/tansu-cloud/gateway/internal/ratelimit"
	"github.com/tansu-cloud/gateway/internal/routing"
	"github.com/tansu-cloud/gateway/internal/server"
	"github.com/tansu-cloud/gateway/internal/services"
	"github.com/tansu-cloud/gateway/internal/tenant"
	"github.com/tansu-cloud/gateway/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logDir := filepath.Join(filepath.Dir(cfg.DatabasePath), "logs")
	_ = os.MkdirAll(logDir, 0o755)
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "gateway.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(cfg.Environment == "development", io.MultiWriter(os.Stdout, rotator))

	logger.Log().Infof("starting %s %s", version.Name, version.Full())

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	var store cache.Store
	var cachePing handlers.Pinger
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		store = redisStore
		cachePing = redisStore
	} else {
		store = cache.NewMemoryStore()
		logger.Log().Warn("no TANSU_REDIS_ADDR configured, using in-process cache store")
	}

	alerter := alert.New(cfg.AlertURLs)

	audit := services.NewAuditService(db)
	policies := services.NewPolicyService(db, audit)

	policyCache := policy.NewCache(policies, cfg.PolicyCacheTTL)
	policyCache.OnDegraded = func(err error) {
		alerter.Send("Gateway degraded", "policy store unreachable: "+err.Error())
	}
	policies.SetInvalidator(policyCache)
	policyCache.Invalidate()

	engine := policy.NewEngine(policyCache)
	resolver := tenant.NewResolver(cfg.ApexDomain, cfg.ReservedLabels)
	output := cache.NewOutputCache(store, cfg.CacheDefaultTTL, cfg.CacheStaticTTL)
	limiter := ratelimit.NewLimiter(cfg.RateWindow,
		ratelimit.FamilyLimit{Permits: cfg.RateDefaultPermits, Queue: cfg.RateDefaultQueue},
		map[string]ratelimit.FamilyLimit{
			// Auth retries are time-sensitive; never queue them.
			ratelimit.FamilyAuth: {Permits: cfg.RateDefaultPermits, Queue: 0},
		})

	table := routing.NewTable(db)
	prober := routing.NewProber(table, alerter, cfg.ProbeTimeout)

	pipeline := proxy.New(resolver, engine, limiter, output, table, cfg.UpstreamTimeout)

	srv, err := server.New(cfg, pipeline, routes.Deps{
		DB:        db,
		Policies:  policies,
		Audit:     audit,
		Table:     table,
		Prober:    prober,
		Verifier:  auth.NewVerifier(cfg.JWTSecret, cfg.AdminKeyHash),
		CachePing: cachePing,
		Registry:  registry,
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 30s", func() { prober.ProbeAll() }); err != nil {
		log.Fatalf("schedule health probes: %v", err)
	}
	if _, err := scheduler.AddFunc("@every 1m", func() { limiter.Sweep(3) }); err != nil {
		log.Fatalf("schedule partition sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	prober.ProbeAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log().Infof("gateway on :%s, admin on :%s", cfg.GatewayPort, cfg.AdminPort)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
