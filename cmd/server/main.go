package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/suPer8Hu/ai-broker/internal/app"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/httpapi"
	"github.com/suPer8Hu/ai-broker/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-broker/internal/store/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("app init failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// without a broker URL callbacks are applied in-process
	var pub handlers.PaymentPublisher
	if cfg.RabbitURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			slog.Error("rabbit publisher init failed", "error", err)
			os.Exit(1)
		}
		defer p.Close()
		pub = p
	}

	// with a queue the worker sweeps drafts
	var draftSweep time.Duration
	if pub == nil {
		draftSweep = time.Hour
	}
	a.StartMaintenance(ctx, draftSweep)
	go reloadOnHUP(ctx, a.Runtime)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(a, pub),
		ReadHeaderTimeout: 10 * time.Second,
		// generation can take a while
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr, "queue", cfg.RabbitQueue, "lock", cfg.LockBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
}

func reloadOnHUP(ctx context.Context, rt *config.RuntimeStore) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := rt.Reload(); err != nil {
				slog.Error("runtime reload failed, keeping previous", "error", err)
				continue
			}
			slog.Info("runtime overrides reloaded")
		}
	}
}
