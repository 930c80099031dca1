// Package api exposes report management over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/reportmailer/internal/auth"
	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/report"
	"github.com/reportmailer/internal/schedule"
	"github.com/reportmailer/internal/store"
)

// Downloader builds a report workbook on demand.
type Downloader interface {
	Download(ctx context.Context, reportID uint) (*report.Artifact, error)
}

// ConnectionTester checks that a source database is reachable.
type ConnectionTester interface {
	TestConnection(ctx context.Context, conn models.DatabaseConnection) error
}

// MetricsSource reports background worker counters.
type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

type Server struct {
	store     *store.Store
	scheduler *schedule.Scheduler
	reports   Downloader
	tester    ConnectionTester
	worker    MetricsSource
	logger    *slog.Logger
	router    *gin.Engine
}

type Options struct {
	Store     *store.Store
	Scheduler *schedule.Scheduler
	Reports   Downloader
	Tester    ConnectionTester
	Worker    MetricsSource
	JWTSecret string
	Logger    *slog.Logger
}

func NewServer(opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	server := &Server{
		store:     opts.Store,
		scheduler: opts.Scheduler,
		reports:   opts.Reports,
		tester:    opts.Tester,
		worker:    opts.Worker,
		logger:    opts.Logger,
		router:    router,
	}

	server.setupRoutes(opts.JWTSecret)
	return server
}

func (s *Server) setupRoutes(secret string) {
	s.router.GET("/healthz", s.healthz)

	api := s.router.Group("/api/v1")
	api.Use(auth.Middleware(secret))

	reports := api.Group("/reports")
	{
		reports.POST("", s.createReport)
		reports.GET("/:id", s.getReport)
		reports.PUT("/:id", s.updateReport)
		reports.DELETE("/:id", s.deleteReport)
		reports.POST("/:id/schedule", s.scheduleReport)
		reports.POST("/:id/run", s.runReport)
		reports.GET("/:id/download", s.downloadReport)
		reports.GET("/:id/logs", s.reportLogs)
	}

	api.DELETE("/schedules/:handle", s.unschedule)
	api.POST("/sql/parameters", s.sqlParameters)

	api.POST("/connections", s.createConnection)
	api.POST("/connections/:id/test", s.testConnection)

	api.POST("/queries", s.createQuery)
	api.DELETE("/queries/:id", s.deleteQuery)
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.worker != nil {
		body["worker"] = s.worker.GetMetrics()
	}
	c.JSON(http.StatusOK, body)
}

// fail maps err onto a status code and writes the error body.
func (s *Server) fail(c *gin.Context, err error) {
	var cfgErr *schedule.ConfigError
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrQueryInUse), errors.Is(err, store.ErrCodeConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": cfgErr.Field})
	case errors.Is(err, report.ErrNoQueries):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return uint(id), true
}
