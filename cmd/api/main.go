package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/rules-qa/internal/adapters/http"
	"github.com/kirillkom/rules-qa/internal/bootstrap"
	"github.com/kirillkom/rules-qa/internal/config"
	"github.com/kirillkom/rules-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/rules-qa/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("rules-qa-api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.ReloadBus != nil {
		go func() {
			slog.Info("reload_subscribed", "subject", cfg.NATSReloadSubject)
			err := app.ReloadBus.SubscribeReload(ctx, func(handlerCtx context.Context, sig nats.ReloadSignal) error {
				reloadCtx, cancel := context.WithTimeout(handlerCtx, 2*time.Minute)
				defer cancel()
				return app.Reloader.Reload(reloadCtx, "nats:"+sig.Reason)
			})
			if err != nil {
				slog.Error("reload_subscription_failed", "error", err)
			}
		}()
	}

	router := httpadapter.NewRouter(httpadapter.RouterConfig{
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    cfg.APIMaxInFlight,
		QueueWait:      cfg.APIQueueWait,
	}, app.RAG, app.Reloader, app.Metrics).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLMGenerationTimeout + cfg.LLMJudgeTimeout*time.Duration(cfg.RAGMaxHops) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
