package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"harvest/internal/auth"
	"harvest/internal/config"
	"harvest/internal/coord"
	cronrunner "harvest/internal/cron"
	"harvest/internal/db"
	"harvest/internal/handler"
	"harvest/internal/logger"
	"harvest/internal/notification"
	gormrepository "harvest/internal/repository/gorm"
	"harvest/internal/service"
	"harvest/internal/supervisor"
)

func main() {
	cfgPath := os.Getenv("HARVEST_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("HARVEST_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	supervisorID := uuid.NewString()
	logger, err := logger.New(cfg.Log, "supervisor", supervisorID)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	store, err := coord.NewRedisStoreFromURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("redis url invalid", zap.Error(err))
	}
	defer store.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}
	cancelPing()

	var (
		users    supervisor.UserLister
		recorder supervisor.EventRecorder
		events   *service.WorkerEventLog
		history  *service.TradeHistory
	)
	if db.Enabled(cfg.DB) {
		dbConn, err := db.Open(cfg.DB)
		if err != nil {
			logger.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)
		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
		repo := gormrepository.New(dbConn.Gorm)
		users = repo
		events = &service.WorkerEventLog{Repo: repo}
		recorder = events
		history = &service.TradeHistory{Repo: repo}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userIDs, err := supervisor.ResolveUsers(ctx, cfg.Supervisor.UserSource, cfg.Supervisor.UserIDs, users)
	if err != nil {
		logger.Fatal("resolve users failed", zap.Error(err))
	}

	sup := supervisor.New(supervisor.Options{
		ID:    supervisorID,
		Store: store,
		Spawner: supervisor.ExecSpawner{
			Binary: cfg.Supervisor.WorkerBinary,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		},
		StoreURL:         cfg.Redis.URL,
		Config:           cfg,
		Workers:          cfg.Supervisor.Workers,
		MonitorInterval:  cfg.Supervisor.MonitorInterval,
		StartupGrace:     cfg.Supervisor.StartupGrace,
		BackoffBase:      cfg.Supervisor.RestartBackoffBase,
		BackoffMax:       cfg.Supervisor.RestartBackoffMax,
		TerminateTimeout: cfg.Supervisor.TerminateTimeout,
		AssignmentTTL:    cfg.Supervisor.AssignmentTTL,
		HTTPHost:         cfg.Worker.HTTPHost,
		HTTPBasePort:     cfg.Worker.HTTPBasePort,
		Notifier:         notification.FromConfig(cfg.Alerts, logger),
		Recorder:         recorder,
		Logger:           logger,
	})
	logger.Info("supervisor starting",
		zap.Int("workers", cfg.Supervisor.Workers),
		zap.Int("users", len(userIDs)),
	)
	if err := sup.Start(ctx, userIDs); err != nil {
		logger.Fatal("supervisor start failed", zap.Error(err))
	}
	go sup.Monitor(ctx)

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.AssignmentRenew, func(ctx context.Context) {
			if err := sup.RenewAssignments(ctx); err != nil {
				logger.Warn("cron assignment renew failed", zap.Error(err))
				return
			}
			logger.Info("cron assignment renew ok")
		})
		if err != nil {
			logger.Warn("cron assignment renew register failed", zap.Error(err))
		}
		if history != nil {
			cronRunner.MustAdd("audit_prune", cfg.Cron.AuditPrune, func(ctx context.Context) {
				n, err := history.Prune(ctx, cfg.DB.AuditRetention)
				if err != nil {
					logger.Warn("cron audit prune failed", zap.Error(err))
					return
				}
				logger.Info("cron audit prune ok", zap.Int64("deleted", n))
			})
		}
		cronRunner.Start()
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret empty; POST routes will refuse every request")
	}
	supHandler := &handler.SupervisorHandler{
		Supervisor: sup,
		Auth:       handler.RequireBearer(auth.FromConfig(cfg.Auth)),
	}
	if events != nil {
		supHandler.Events = events
	}
	if history != nil {
		supHandler.Trades = history
	}
	supHandler.Register(engine)
	handler.RegisterMetrics(engine)

	srv := &http.Server{
		Addr:    cfg.Supervisor.HTTPAddr,
		Handler: engine,
	}

	go func() {
		logger.Info("supervisor http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("supervisor shutting down")

	if cfg.Cron.Enabled {
		cronRunner.Stop()
	}
	// Close the HTTP surface first so no restart races Stop.
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelHTTP()
	_ = srv.Shutdown(httpCtx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Supervisor.TerminateTimeout+5*time.Second)
	defer cancelStop()
	sup.Stop(stopCtx)
}
