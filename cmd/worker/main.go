package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"harvest/internal/auth"
	"harvest/internal/coord"
	cronrunner "harvest/internal/cron"
	"harvest/internal/db"
	"harvest/internal/execution"
	"harvest/internal/handler"
	"harvest/internal/logger"
	"harvest/internal/notification"
	"harvest/internal/provider"
	gormrepository "harvest/internal/repository/gorm"
	"harvest/internal/service"
	"harvest/internal/tradequeue"
	"harvest/internal/usage"
	"harvest/internal/worker"
)

func main() {
	specPath := flag.String("spec", "", "worker spec JSON file; stdin when empty")
	flag.Parse()

	spec, err := readSpec(*specPath)
	if err != nil {
		panic(err)
	}
	cfg := spec.Config

	log, err := logger.New(cfg.Log, "worker", spec.WorkerID)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	store, err := coord.NewRedisStoreFromURL(spec.StoreURL)
	if err != nil {
		log.Fatal("redis url invalid", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo     *gormrepository.Store
		recorder tradequeue.Recorder
	)
	if db.Enabled(cfg.DB) {
		dbConn, err := db.Open(cfg.DB)
		if err != nil {
			log.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)
		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			log.Warn("failed to set timezone", zap.Error(err))
		}
		repo = gormrepository.New(dbConn.Gorm)
		recorder = &service.TradeAudit{Repo: repo, WorkerID: spec.WorkerID}
	}

	notifier := notification.FromConfig(cfg.Alerts, log)
	slotIDs, slotLimits := provider.UsageSlots(cfg.Providers, cfg.Credentials)
	monitor := usage.NewMonitor(slotLimits,
		usage.WithThresholds([]usage.Threshold{
			{Ratio: cfg.Usage.WarningRatio, Level: usage.LevelWarning},
			{Ratio: cfg.Usage.CriticalRatio, Level: usage.LevelCritical},
		}),
		usage.WithSink(usage.NotifierSink{Notifier: notifier}),
		usage.WithStore(store),
		usage.WithCredentialIDs(slotIDs),
		usage.WithLogger(log),
	)

	chain, err := provider.Build(cfg.Providers, cfg.Credentials, spec.UserIDs, monitor, log)
	if err != nil {
		log.Fatal("provider chain build failed", zap.Error(err))
	}

	var signer provider.Caller
	if cfg.Execution.SignerURL != "" {
		signer = provider.NewHTTPCaller(nil, cfg.Execution.SignerURL, cfg.Providers.Timeout)
	}
	wallets := execution.NewWalletBook(cfg.Execution.Wallets, signer, cfg.Execution.SignMethod)
	if repo != nil {
		fromDB, err := repo.ListUserWallets(ctx, spec.UserIDs)
		if err != nil {
			log.Warn("load user wallets failed", zap.Error(err))
		}
		for userID, addr := range fromDB {
			wallets.Set(userID, addr)
		}
	}
	log.Info("wallets loaded", zap.Int("count", wallets.Len()), zap.Int("users", len(spec.UserIDs)))

	cache := &coord.Cache{
		Store:       store,
		Logger:      log,
		PriceTTL:    cfg.Execution.PriceCacheTTL,
		StrategyTTL: cfg.Execution.StrategyCacheTTL,
	}
	submitter := &execution.Submitter{
		RPC:         chain,
		Wallets:     wallets,
		Store:       store,
		Cache:       cache,
		SendMethod:  cfg.Execution.SendMethod,
		PriceMethod: cfg.Execution.PriceMethod,
		LockTTL:     cfg.Execution.LockTTL,
		Logger:      log,
	}
	strategies, err := execution.Lookup(cfg.Execution.Strategies)
	if err != nil {
		log.Fatal("strategy lookup failed", zap.Error(err), zap.Strings("registered", execution.Registered()))
	}
	if len(strategies) == 0 {
		log.Warn("no strategies configured; scans will find nothing")
	}
	scanner := &execution.Scanner{
		Strategies: strategies,
		Env:        execution.Env{RPC: chain, Cache: cache},
		Submitter:  submitter,
		Logger:     log,
	}

	queue := tradequeue.New(tradequeue.Options{
		PopWait:      cfg.Queue.PopWait,
		StopTimeout:  cfg.Queue.StopTimeout,
		PollInterval: cfg.Queue.PollInterval,
		Recorder:     recorder,
		Logger:       log,
	})
	// Shutdown drains through StopProcessing, not signal cancellation.
	queue.StartProcessing(context.WithoutCancel(ctx))

	runtime := worker.New(worker.Options{
		WorkerID:          spec.WorkerID,
		UserIDs:           spec.UserIDs,
		Store:             store,
		Scanner:           scanner,
		Queue:             queue,
		ScanInterval:      cfg.Worker.ScanInterval,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		HeartbeatTTL:      cfg.Worker.HeartbeatTTL,
		HeartbeatRetry:    cfg.Worker.HeartbeatRetry,
		AssignmentTTL:     cfg.Supervisor.AssignmentTTL,
		Logger:            log,
	})
	if err := runtime.Start(ctx); err != nil {
		log.Fatal("worker start failed", zap.Error(err))
	}

	cronRunner := cronrunner.New(log, ctx)
	if cfg.Cron.Enabled {
		cronRunner.MustAdd("usage_reset", cfg.Cron.UsageReset, func(ctx context.Context) {
			monitor.ResetDailyCounters()
			chain.ResetDaily()
			log.Info("cron usage reset ok")
		})
		cronRunner.MustAdd("queue_prune", cfg.Cron.QueuePrune, func(ctx context.Context) {
			if n := queue.ClearCompletedTrades(cfg.Queue.Retention); n > 0 {
				log.Info("cron queue prune ok", zap.Int("removed", n))
			}
		})
		cronRunner.Start()
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	workerHandler := &handler.WorkerHandler{
		Runtime: runtime,
		Queue:   queue,
		Usage:   monitor,
		Chain:   chain,
		Auth:    handler.RequireBearer(auth.FromConfig(cfg.Auth)),
	}
	workerHandler.Register(engine)
	handler.RegisterMetrics(engine)

	srv := &http.Server{
		Addr:    spec.HTTPAddr,
		Handler: engine,
	}
	if srv.Addr != "" {
		go func() {
			log.Info("worker http listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("worker http server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	log.Info("worker shutting down")

	if cfg.Cron.Enabled {
		cronRunner.Stop()
	}
	// worker.stop_timeout + queue.stop_timeout fit inside the supervisor's
	// terminate_timeout, which config.Load enforces.
	stopTimeout := cfg.Worker.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if err := runtime.Stop(stopCtx); err != nil {
		log.Warn("worker stop failed", zap.Error(err))
	}
	if err := queue.StopProcessing(); err != nil {
		log.Warn("trade queue stop failed", zap.Error(err))
	}
	monitor.Flush()

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelHTTP()
	_ = srv.Shutdown(httpCtx)
}

func readSpec(path string) (worker.Spec, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return worker.Spec{}, err
		}
		defer f.Close()
		r = f
	}
	return worker.DecodeSpec(r)
}
