package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	rootapi "farmapp/api"
	"farmapp/backend/config"
	"farmapp/backend/db"
	"farmapp/backend/handlers"
	"farmapp/backend/metrics"
	"farmapp/backend/middleware"
	"farmapp/backend/providers"
	"farmapp/backend/rabbitmq"
	"farmapp/backend/reconcile"
	"farmapp/common"

	"github.com/apex/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Sync      *handlers.SyncHandler
	Outbreaks *handlers.OutbreakHandler
	Advisory  *handlers.AdvisoryHandler
	Health    gin.HandlerFunc
}

// NewRouter mounts the public probe and metrics endpoints and the
// authenticated, rate limited API.
func NewRouter(cfg *config.Config, h *Handlers) *gin.Engine {
	router := gin.Default()
	router.Use(middleware.CORS())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET(EndPointHelp, Help)
	router.GET(rootapi.HealthEndpoint, h.Health)
	router.GET(rootapi.MetricsEndpoint, gin.WrapH(promhttp.Handler()))

	protected := router.Group("")
	protected.Use(middleware.AuthMiddleware([]byte(cfg.JWTSecret)))
	protected.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))
	{
		protected.POST(rootapi.SyncEndpoint, h.Sync.Sync)
		protected.POST(rootapi.SyncBatchEndpoint, h.Sync.SyncBatch)
		protected.GET(rootapi.SyncStatusEndpoint, h.Sync.Status)
		protected.DELETE(rootapi.SyncClearEndpoint, h.Sync.Clear)

		protected.POST(rootapi.OutbreakReportEndpoint, h.Outbreaks.Report)
		protected.POST(rootapi.OutbreakMapEndpoint, h.Outbreaks.Map)
		protected.GET(rootapi.OutbreaksEndpoint, h.Outbreaks.List)
		protected.GET(rootapi.OutbreaksEndpoint+"/:id", h.Outbreaks.Get)
		protected.PUT(rootapi.OutbreaksEndpoint+"/:id/status", h.Outbreaks.UpdateStatus)

		protected.GET(rootapi.WeatherEndpoint, h.Advisory.Weather)
		protected.POST(rootapi.IrrigationEndpoint, h.Advisory.Irrigation)
		protected.GET(rootapi.MarketPricesEndpoint, h.Advisory.MarketPrices)
		protected.POST(rootapi.DiagnosisEndpoint, h.Advisory.Diagnose)
	}
	return router
}

// alertPublisher connects to RabbitMQ. Without a broker the service keeps
// running and outbreak alerts are only logged.
func alertPublisher(cfg *config.Config) (*rabbitmq.Publisher, reconcile.AlertPublisher) {
	if cfg.AMQPURL == "" {
		log.Warn("AMQP_URL is empty, outbreak alerts will only be logged")
		return nil, nil
	}
	p, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AlertExchange, cfg.AlertRoutingKey)
	if err != nil {
		log.Warnf("RabbitMQ is unavailable, outbreak alerts will only be logged: %v", err)
		return nil, nil
	}
	return p, p
}

func newHandlers(cfg *config.Config, conn *sql.DB, alerts reconcile.AlertPublisher) (*Handlers, error) {
	diagnoses := db.NewDiagnosisStore(conn)
	users := db.NewUserStore(conn)
	outbreaks := db.NewOutbreakStore(conn)
	analytics := db.NewAnalyticsStore(conn)

	set, err := providers.New(providers.Config{
		Kind:          cfg.Providers,
		WeatherURL:    cfg.WeatherAPIURL,
		WeatherAPIKey: cfg.WeatherAPIKey,
		MarketURL:     cfg.MarketAPIURL,
		CacheTTL:      cfg.ProviderCacheTTL,
	})
	if err != nil {
		return nil, err
	}

	dispatcher := reconcile.NewDispatcher(diagnoses, analytics, users)
	reporter := reconcile.NewOutbreakReconciler(outbreaks, users, alerts, reconcile.OutbreakOptions{
		ClusterRadiusDeg: cfg.ClusterRadiusDeg,
		AlertRadiusKm:    cfg.AlertRadiusKm,
		AlertMinCases:    cfg.AlertMinCases,
	})

	return &Handlers{
		Sync:      handlers.NewSyncHandler(dispatcher, diagnoses, users, cfg.MaxBatchItems),
		Outbreaks: handlers.NewOutbreakHandler(reporter, outbreaks),
		Advisory:  handlers.NewAdvisoryHandler(set),
		Health:    handlers.HealthCheck(conn),
	}, nil
}

func StartService() error {
	log.Info("Starting the service...")
	cfg := config.Load()
	metrics.Register()

	conn, err := common.DBConnect(cfg.DBParams())
	if err != nil {
		return fmt.Errorf("connecting to the database: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.InitSchema(ctx, conn)
	cancel()
	if err != nil {
		return fmt.Errorf("initializing the schema: %w", err)
	}

	publisher, alerts := alertPublisher(cfg)
	if publisher != nil {
		defer publisher.Close()
	}

	h, err := newHandlers(cfg, conn, alerts)
	if err != nil {
		return err
	}

	router := NewRouter(cfg, h)
	log.Infof("Listening on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	log.Info("Finished the service. Should not ever being seen.")
	return nil
}
