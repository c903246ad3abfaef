package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/neko-do/engine/internal/api"
	"github.com/neko-do/engine/internal/api/handlers"
	"github.com/neko-do/engine/internal/cloud"
	"github.com/neko-do/engine/internal/credentials"
	"github.com/neko-do/engine/internal/dns"
	"github.com/neko-do/engine/internal/notify"
	"github.com/neko-do/engine/internal/orchestrator"
	"github.com/neko-do/engine/internal/repository"
	"github.com/neko-do/engine/pkg/config"
	"github.com/neko-do/engine/pkg/database"
	"github.com/neko-do/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("starting room engine api",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("domain", cfg.Domain),
	)

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	roomRepo := repository.NewRoomRepository(db)
	accountRepo := repository.NewAccountRepository(db)

	issuer := credentials.NewIssuer(accountRepo, []byte(cfg.JWTSecret))
	notifier := notify.NewWebhookNotifier()
	compute := cloud.NewDigitalOcean(cfg.DOToken, "")
	dnsProvider := dns.NewDigitalOcean(cfg.DOToken, "")

	// rooms are grouped under a provider-side project, resolved by name
	projectID, err := compute.FindProjectByName(ctx, cfg.DOProjectName)
	if err != nil {
		log.Warn("provider project lookup failed, rooms will not be associated",
			zap.String("project", cfg.DOProjectName), zap.Error(err))
	} else {
		log.Info("using provider project", zap.String("project", cfg.DOProjectName), zap.String("project_id", projectID))
	}

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

	router := api.NewRouter(api.Dependencies{
		HMACSecret:   []byte(cfg.JWTSecret),
		AuthHandler:  handlers.NewAuthHandler(issuer),
		RoomsHandler: handlers.NewRoomsHandler(orch),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
