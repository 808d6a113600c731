package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/suPer8Hu/ai-broker/internal/app"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/payment"
	"github.com/suPer8Hu/ai-broker/internal/store/rabbitmq"
)

const draftSweepEvery = time.Hour

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}
	cfg := config.Load()
	if cfg.RabbitURL == "" {
		slog.Error("RABBIT_URL is required for the worker")
		os.Exit(1)
	}
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

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
	if err != nil {
		slog.Error("consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	a.StartMaintenance(ctx, draftSweepEvery)

	slog.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", cfg.WorkerConcurrency)
	if err := consumer.Run(ctx, paymentHandler(a)); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("worker shut down")
}

func paymentHandler(a *app.App) rabbitmq.Handler {
	return func(ctx context.Context, body []byte) error {
		var m rabbitmq.PaymentMessage
		if err := json.Unmarshal(body, &m); err != nil || m.ExternalChargeID == "" {
			return rabbitmq.Permanent(errors.New("bad payment message"))
		}
		return handlePayment(ctx, a, m)
	}
}

func handlePayment(ctx context.Context, a *app.App, m rabbitmq.PaymentMessage) error {
	start := time.Now()
	err := a.ProcessPayment(ctx, payment.Callback{
		UserID:           m.UserID,
		Invoice:          m.Invoice,
		ExternalChargeID: m.ExternalChargeID,
	})
	total := time.Since(start)
	lag := start.Sub(m.ReceivedAt)

	if err != nil {
		slog.Error("payment_timing_failed",
			"charge_id", m.ExternalChargeID, "user_id", m.UserID,
			"queue_lag_ms", lag.Milliseconds(), "total_ms", total.Milliseconds(), "error", err)
		if errors.Is(err, payment.ErrInvalidInvoice) {
			return rabbitmq.Permanent(err)
		}
		return err
	}
	if total > 2*time.Second {
		slog.Info("payment_timing",
			"charge_id", m.ExternalChargeID, "user_id", m.UserID,
			"queue_lag_ms", lag.Milliseconds(), "total_ms", total.Milliseconds())
	}
	return nil
}
