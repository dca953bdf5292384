package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/kelas-ledger-api/api/swagger"
	"github.com/noah-isme/kelas-ledger-api/internal/handler"
	"github.com/noah-isme/kelas-ledger-api/internal/middleware"
	"github.com/noah-isme/kelas-ledger-api/internal/repository"
	"github.com/noah-isme/kelas-ledger-api/internal/service"
	"github.com/noah-isme/kelas-ledger-api/pkg/cache"
	"github.com/noah-isme/kelas-ledger-api/pkg/config"
	"github.com/noah-isme/kelas-ledger-api/pkg/database"
	"github.com/noah-isme/kelas-ledger-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/kelas-ledger-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/kelas-ledger-api/pkg/middleware/requestid"
)

// @title Kelas Ledger API
// @version 1.0.0
// @description Class credit ledger: occurrence materialization, attendance-driven billing and overdue recovery
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, balance summaries will not be cached", "error", err)
		redisClient = nil
	}

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logr.Sugar().Fatalw("invalid business timezone", "timezone", cfg.Scheduler.Timezone, "error", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	students := repository.NewStudentRepository(db)
	classes := repository.NewClassRepository(db)
	schedules := repository.NewScheduleRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	occurrences := repository.NewOccurrenceRepository(db)
	attendance := repository.NewAttendanceRepository(db)
	exclusions := repository.NewExclusionRepository(db)
	ledger := repository.NewLedgerRepository(db)
	summaryCache := repository.NewCacheRepository(redisClient, logr)

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		Secret:        cfg.JWT.Secret,
		AccessExpiry:  cfg.JWT.Expiration,
		RefreshExpiry: cfg.JWT.RefreshExpiration,
	})
	balanceSvc := service.NewBalanceService(ledger, enrollments, summaryCache, metrics, logr, cfg.Billing.SummaryCacheTTL)
	catalogSvc := service.NewCatalogService(students, classes, schedules, enrollments, validate, logr, cfg.Billing.DefaultDurationMinutes)
	occurrenceSvc := service.NewOccurrenceService(
		occurrences, schedules, classes, enrollments, exclusions, attendance,
		balanceSvc, ledger, validate, metrics, logr, location, cfg.Billing.DefaultDurationMinutes,
	)
	attendanceSvc := service.NewAttendanceService(attendance, exclusions, occurrences, enrollments, balanceSvc, validate, logr)
	paymentSvc := service.NewPaymentService(ledger, students, classes, balanceSvc, validate, logr)

	handlers := handler.Handlers{
		Auth:        handler.NewAuthHandler(authSvc),
		Students:    handler.NewStudentHandler(catalogSvc, balanceSvc),
		Classes:     handler.NewClassHandler(catalogSvc),
		Schedules:   handler.NewScheduleHandler(catalogSvc, occurrenceSvc, location),
		Enrollments: handler.NewEnrollmentHandler(catalogSvc),
		Occurrences: handler.NewOccurrenceHandler(occurrenceSvc, attendanceSvc),
		Attendance:  handler.NewAttendanceHandler(attendanceSvc),
		Payments:    handler.NewPaymentHandler(paymentSvc),
		Metrics:     handler.NewMetricsHandler(metrics, db),
	}

	if cfg.Statements.Enabled {
		statementSvc, err := service.NewStatementService(ledger, students, cfg.Statements, location, logr)
		if err != nil {
			logr.Sugar().Fatalw("failed to init statement service", "error", err)
		}
		handlers.Statements = handler.NewStatementHandler(statementSvc)
	}

	if cfg.Scheduler.Enabled {
		schedulerSvc, err := service.NewSchedulerService(schedules, occurrenceSvc, cfg.Scheduler, metrics, logr)
		if err != nil {
			logr.Sugar().Fatalw("failed to init scheduler", "error", err)
		}
		schedulerSvc.Start(ctx)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(middleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	handler.RegisterRoutes(r, cfg.APIPrefix, handlers, authSvc)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "timezone", location.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
