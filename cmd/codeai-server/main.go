package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-codeai/internal/cache"
	"github.com/pribylovaa/go-codeai/internal/chat"
	"github.com/pribylovaa/go-codeai/internal/config"
	"github.com/pribylovaa/go-codeai/internal/genai"
	"github.com/pribylovaa/go-codeai/internal/oauth"
	"github.com/pribylovaa/go-codeai/internal/queue"
	"github.com/pribylovaa/go-codeai/internal/ratelimit"
	apihttp "github.com/pribylovaa/go-codeai/internal/server/http"
	"github.com/pribylovaa/go-codeai/internal/service"
	"github.com/pribylovaa/go-codeai/internal/storage"
	"github.com/pribylovaa/go-codeai/internal/storage/postgres"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	str, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	dbCancel()
	if err != nil {
		log.Error("postgres_connect_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}
	log.Info("postgres_connected")

	// Redis: кэш результатов и one-time state OAuth.
	rds, err := cache.New(cfg.Redis.RedisURL, "codeai:")
	if err != nil {
		log.Error("redis_connect_failed", slog.String("err", err.Error()))
		rootCancel()
		str.Close()
		os.Exit(1)
	}
	log.Info("redis_connected")

	// Шина задач генерации и консьюмеры.
	bus := queue.NewBus(0)

	// Сервис.
	srvc := service.New(service.Deps{
		Storage:         str,
		Results:         rds,
		States:          rds,
		Windows:         chat.NewWindows(chat.DefaultMaxExchanges),
		Bus:             bus,
		Gen:             genai.NewClient(cfg.Generator),
		Provider:        oauth.NewGitHub(cfg.OAuth, cfg.Timeouts.Provider),
		AuthCfg:         cfg.Auth,
		GenCfg:          cfg.Generator,
		DispatchTimeout: cfg.Timeouts.Dispatch,
	})
	log.Info("service_initialized")

	bus.StartConsumers(rootCtx, cfg.Generator.Workers, srvc.ConsumeJob)
	log.Info("consumers_started", slog.Int("workers", cfg.Generator.Workers))

	// Лимитер запросов per-identity с фоновой уборкой простаивающих вёдер.
	limiter := ratelimit.New(cfg.Limits.PerSecond, cfg.Limits.Burst)
	limiter.StartGC(rootCtx, time.Minute)

	// Фоновая очистка просроченных refresh-токенов.
	startRefreshJanitor(rootCtx, str, log, 30*time.Minute)

	// Служебный сервер: liveness/readiness/metrics.
	var ready int32 // 0 — not ready; 1 — ready
	opsAddr := cfg.Ops.Addr()

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&ready) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", promhttp.Handler())

	opsSrv := &http.Server{
		Addr:              opsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("ops_listen_start", "addr", opsAddr)
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops_serve_failed", slog.String("err", err.Error()))
		}
	}()

	// Основной API-сервер.
	router := apihttp.NewRouter(srvc, apihttp.Options{
		Logger:  log,
		Timeout: cfg.Timeouts.Request,
		AuthCfg: cfg.Auth,
		Limiter: limiter,
	})

	apiAddr := cfg.HTTP.Addr()
	apiSrv := &http.Server{
		Addr:              apiAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", apiAddr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	atomic.StoreInt32(&ready, 1)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	// Graceful stop с таймаутом.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
	}
	_ = opsSrv.Shutdown(context.Background())

	// Явная очистка перед выходом.
	shutdownCancel()
	rootCancel()
	bus.Close()
	rds.Close()
	str.Close()

	log.Info("service_stopped")
	os.Exit(0)
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// startRefreshJanitor запускает фоновую задачу, которая периодически удаляет
// просроченные refresh-токены из хранилища с помощью storage.DeleteExpiredTokens.
func startRefreshJanitor(ctx context.Context, storage storage.Storage, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := storage.DeleteExpiredTokens(ctx, time.Now().UTC()); err != nil {
					log.Error("refresh_janitor_failed", slog.String("err", err.Error()))
				}
			}
		}
	}()
}
