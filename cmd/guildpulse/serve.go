package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"guildpulse/internal/analytics"
	"guildpulse/internal/automod"
	"guildpulse/internal/bot"
	"guildpulse/internal/config"
	"guildpulse/internal/eventlog"
	"guildpulse/internal/metrics"
	"guildpulse/internal/statchannels"
	"guildpulse/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	collectorInterval = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	backend, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		logger.Error("storage init failed", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
		return err
	}
	defer backend.Close()
	logger.Info("storage opened", zap.String("driver", cfg.Storage.Driver))

	observe := storage.WithWriteObserver(metrics.ObserveDocumentWrite)
	analyticsDoc := storage.OpenDocument[analytics.Store](ctx, backend, storage.DocAnalytics, logger, observe)
	automodDoc := storage.OpenDocument[automod.Configs](ctx, backend, storage.DocAutomod, logger, observe)
	loggingDoc := storage.OpenDocument[eventlog.Config](ctx, backend, storage.DocLogging, logger, observe)
	statsDoc := storage.OpenDocument[statchannels.Registrations](ctx, backend, storage.DocAnalyticsVC, logger, observe)

	router := eventlog.NewRouter(loggingDoc)
	dispatcher := eventlog.NewDispatcher(router, nil, logger)
	analyticsSvc := analytics.New(analyticsDoc, logger)
	analyticsSvc.SetNotifier(func(ctx context.Context, guildID string, record eventlog.Record) {
		dispatcher.Notify(ctx, guildID, record)
	})
	stats := statchannels.NewService(statchannels.NewRegistry(statsDoc), nil, cfg.StatRefreshInterval(), logger)

	botSvc, err := bot.New(cfg, logger, bot.Services{
		Analytics:  analyticsSvc,
		Automod:    automod.NewManager(automodDoc),
		Scanner:    automod.NewScanner(),
		Router:     router,
		Dispatcher: dispatcher,
		Stats:      stats,
	})
	if err != nil {
		logger.Error("bot init failed", zap.Error(err))
		return err
	}

	metrics.StartCollector(ctx, metrics.StatsSource{
		GuildCount:       analyticsSvc.GuildCount,
		StatChannelCount: stats.Registry().EnabledCount,
		LogRouteCount:    router.Count,
	}, collectorInterval, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return botSvc.Run(ctx)
	})
	g.Go(func() error {
		return stats.Run(ctx)
	})
	if cfg.Health.Enabled {
		server := healthServer(cfg.Health.Addr)
		g.Go(func() error {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func healthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
