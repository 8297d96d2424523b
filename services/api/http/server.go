package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hydrostat/basinflow/services/api/aggregate"
	"github.com/hydrostat/basinflow/services/api/config"
	"github.com/hydrostat/basinflow/services/api/db"
)

// AggregationService answers the cached aggregation queries.
type AggregationService interface {
	UpstreamAggregate(ctx context.Context, basinID, dataType, window string, depth int) (*aggregate.UpstreamAggregate, error)
	Timeseries(ctx context.Context, q aggregate.TimeseriesQuery) (*aggregate.TimeseriesResult, error)
}

// RecordStore is the read-side record access used by the boundary endpoints.
type RecordStore interface {
	ListBasins(ctx context.Context) ([]db.Basin, error)
	GetBasin(ctx context.Context, basinID string) (*db.Basin, error)
	ListDataTypes(ctx context.Context) ([]db.DataType, error)
	GetDataType(ctx context.Context, name string) (*db.DataType, error)
	RecentObservations(ctx context.Context, dataTypeID int64, cutoff time.Time) ([]db.Observation, error)
}

// Server bundles router and dependencies for the REST API.
type Server struct {
	cfg    config.Config
	store  RecordStore
	svc    AggregationService
	engine *gin.Engine
	logger *zap.Logger
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, store RecordStore, svc AggregationService, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())
	engine.Use(corsMiddleware())

	if cfg.BearerToken != "" {
		engine.Use(bearerAuthMiddleware(cfg.BearerToken))
	}

	server := &Server{cfg: cfg, store: store, svc: svc, engine: engine, logger: logger}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.GET("/basins", s.handleListBasins)
	s.engine.GET("/basins/:id", s.handleGetBasin)
	s.engine.GET("/basins/:id/upstream_aggregate", s.handleUpstreamAggregate)
	s.engine.GET("/data-types", s.handleListDataTypes)
	s.engine.GET("/observations/recent", s.handleRecentObservations)
	s.engine.GET("/monitoring/api/timeseries/", s.handleTimeseries)
}

func bearerAuthMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token != expected {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
