// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/config"
	"github.com/javajoker/export-registry/internal/database"
	"github.com/javajoker/export-registry/internal/events"
	"github.com/javajoker/export-registry/internal/i18n"
	"github.com/javajoker/export-registry/internal/metrics"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/revocation"
	"github.com/javajoker/export-registry/internal/router"
	"github.com/javajoker/export-registry/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogging(cfg.Log)

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}
	if err := database.SeedInitialData(db, cfg.Admin); err != nil {
		logrus.WithError(err).Fatal("Failed to seed initial data")
	}

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.DefaultLocale); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.Redis)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := repository.NewGormStore(db)
	files, err := services.NewStorageService(cfg, m)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize file storage")
	}
	notifications := services.NewNotificationService(store, cfg, m)

	caseOpts := []services.CaseServiceOption{services.WithMetrics(m)}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		caseOpts = append(caseOpts, services.WithPublisher(publisher))
		logrus.WithFields(logrus.Fields{
			"brokers": strings.Join(cfg.Kafka.Brokers, ","),
			"topic":   cfg.Kafka.Topic,
		}).Info("Publishing case events to Kafka")
	}
	caseService := services.NewCaseService(store, files, notifications, services.NewPaymentService(cfg), cfg, caseOpts...)

	svc := router.Services{
		Auth:          services.NewAuthService(store, revocation.NewRedisStore(redisClient), notifications, cfg),
		Accounts:      services.NewAccountService(store),
		Admin:         services.NewAdminService(store),
		Products:      services.NewProductService(store),
		Cases:         caseService,
		Queries:       services.NewCaseQueryService(store, files, services.NewCompletenessValidator(m)),
		Notifications: notifications,
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	r := router.Initialize(cfg, store, svc, reg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	// Let in-flight notifications and events finish
	caseService.Wait()

	logrus.Info("Server exited")
}

func setupLogging(cfg config.LogConfig) {
	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.WithField("level", cfg.Level).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
