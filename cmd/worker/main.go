package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neko-do/engine/pkg/config"
	"github.com/neko-do/engine/pkg/database"
	"github.com/neko-do/engine/pkg/logger"

	"github.com/neko-do/engine/internal/cloud"
	"github.com/neko-do/engine/internal/credentials"
	"github.com/neko-do/engine/internal/dns"
	"github.com/neko-do/engine/internal/notify"
	"github.com/neko-do/engine/internal/orchestrator"
	"github.com/neko-do/engine/internal/queue/tasks"
	"github.com/neko-do/engine/internal/repository"
	"github.com/neko-do/engine/internal/scheduler"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	roomRepo := repository.NewRoomRepository(db)
	accountRepo := repository.NewAccountRepository(db)

	issuer := credentials.NewIssuer(accountRepo, []byte(cfg.JWTSecret))
	notifier := notify.NewWebhookNotifier()
	compute := cloud.NewDigitalOcean(cfg.DOToken, "")
	dnsProvider := dns.NewDigitalOcean(cfg.DOToken, "")

	projectID, err := compute.FindProjectByName(ctx, cfg.DOProjectName)
	if err != nil {
		log.Warn("provider project lookup failed, rooms will not be associated",
			zap.String("project", cfg.DOProjectName), zap.Error(err))
	}

	// the worker needs its own client: polls reschedule themselves
	queue := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer queue.Close()

	orch := orchestrator.New(orchestrator.Config{
		Domain:          cfg.Domain,
		ProjectID:       projectID,
		SSHKeyID:        cfg.DOSSHKeyID,
		Region:          cfg.DORegion,
		Size:            cfg.DOSize,
		Image:           cfg.DOImage,
		CallbackBaseURL: cfg.CallbackBaseURL,
		ProbePort:       cfg.ProbePort,
		RoomTTL:         cfg.RoomTTL,
		RenewWindow:     cfg.RenewWindow,
		PollBaseDelay:   cfg.IPPollBaseDelay,
		PollMaxDelay:    cfg.IPPollMaxDelay,
		PollMaxAttempts: cfg.IPPollMaxAttempts,
	}, roomRepo, compute, dnsProvider, issuer, notifier, queue)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	mux := asynq.NewServeMux()
	tasks.NewRoomTaskHandler(orch).Register(mux)

	// reconciliation driver runs alongside the task worker
	schedCtx, stopSched := context.WithCancel(context.Background())
	sched := scheduler.New(scheduler.Config{
		Interval:          cfg.ReconcileInterval,
		ProvisionDeadline: cfg.ProvisionDeadline,
		ProbeTimeout:      cfg.ProbeTimeout,
		ProbePort:         cfg.ProbePort,
	}, roomRepo, orch)
	go sched.Run(schedCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	stopSched()
	srv.Shutdown()
}
