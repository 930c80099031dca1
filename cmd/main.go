package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reportmailer/internal/api"
	"github.com/reportmailer/internal/config"
	"github.com/reportmailer/internal/database"
	"github.com/reportmailer/internal/logger"
	"github.com/reportmailer/internal/mailer"
	"github.com/reportmailer/internal/notify"
	"github.com/reportmailer/internal/query"
	"github.com/reportmailer/internal/queue"
	"github.com/reportmailer/internal/report"
	"github.com/reportmailer/internal/schedule"
	"github.com/reportmailer/internal/secret"
	"github.com/reportmailer/internal/store"
)

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("REPORTMAILER_CONFIG"); path != "" {
		return config.LoadFile(path)
	}
	return config.LoadConfig()
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog := logger.New(cfg.Log.Level, cfg.Log.Format)
	loc := cfg.Location()

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close(db)

	box, err := secret.NewBox(cfg.Security.SecretKey)
	if err != nil {
		log.Fatalf("Failed to load secret key: %v", err)
	}
	if box == nil {
		appLog.Warn("security.secret_key is not set; connection passwords are stored in clear")
	}

	st := store.New(db, store.Options{
		Box:         box,
		CodePrefix:  cfg.Reports.CodePrefix,
		CodePadding: cfg.Reports.CodePadding,
	})

	m, err := mailer.NewFromConfig(cfg, appLog)
	if err != nil {
		log.Fatalf("Failed to create mailer: %v", err)
	}

	runner := query.NewRunner(cfg.Reports.ConnectTimeout, loc, appLog)
	orchestrator := report.NewOrchestrator(st, runner, m, cfg.Reports.QueryConcurrency, loc, appLog)

	tasks := queue.New(db)
	policy := queue.RetryPolicy{MaxAttempts: cfg.Queue.MaxAttempts, Backoff: cfg.Queue.Backoff}

	notifier := notify.New(notify.Config{
		SlackToken:     cfg.Alert.Slack.Token,
		SlackChannel:   cfg.Alert.Slack.Channel,
		EmailReceivers: cfg.Alert.Email.Receivers,
	}, m, appLog)
	worker := queue.NewWorker(tasks, cfg.Queue.Concurrency, cfg.Queue.PollInterval, notifier, appLog)
	orchestrator.Register(worker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}
	defer worker.Stop()

	scheduler := schedule.New(st, tasks, policy, loc, appLog)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(api.Options{
		Store:     st,
		Scheduler: scheduler,
		Reports:   orchestrator,
		Tester:    runner,
		Worker:    worker,
		JWTSecret: cfg.Server.JWTSecret,
		Logger:    appLog,
	})
	if cfg.Server.JWTSecret == "" {
		appLog.Warn("server.jwt_secret is not set; the API accepts unauthenticated requests")
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	appLog.Info("report mailer listening", "port", cfg.Server.Port, "mail_transport", cfg.Mail.Transport, "timezone", loc.String())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("server stopped", "error", err)
	}
}
