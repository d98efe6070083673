package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/workledger/internal/config"
	"github.com/smallbiznis/workledger/internal/observability"
	obslogger "github.com/smallbiznis/workledger/internal/observability/logger"
	obstracing "github.com/smallbiznis/workledger/internal/observability/tracing"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module serves the operator endpoints: probes, metrics and outbox inspection.
var Module = fx.Module("ops.server",
	fx.Provide(NewServer),
	fx.Provide(NewEngine),
	fx.Invoke(run),
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	DB      *gorm.DB
	Store   outboxdomain.Store
	Retrier outboxdomain.Retrier
	Redis   *redis.Client `optional:"true"`
}

type Server struct {
	log     *zap.Logger
	cfg     config.Config
	db      *gorm.DB
	store   outboxdomain.Store
	retrier outboxdomain.Retrier
	redis   *redis.Client
}

func NewServer(p Params) *Server {
	return &Server{
		log:     p.Log.Named("ops.server"),
		cfg:     p.Config,
		db:      p.DB,
		store:   p.Store,
		retrier: p.Retrier,
		redis:   p.Redis,
	}
}

func NewEngine(s *Server, obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(s.log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.Healthz)
	r.GET("/readyz", s.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1/outbox")
	v1.GET("/stats", s.OutboxStats)
	v1.GET("/events", s.ListOutboxEvents)
	v1.GET("/tenants/:tenant_id/events/:id", s.GetOutboxEvent)
	v1.POST("/tenants/:tenant_id/events/:id/retry", s.RetryOutboxEvent)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.OpsHTTPAddr)
	if addr == "" {
		log.Info("ops server disabled")
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("ops server stopped", zap.Error(err))
				}
			}()
			log.Info("ops server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
