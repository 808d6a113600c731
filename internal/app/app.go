// Package app wires the broker's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-broker/internal/ai"
	"github.com/suPer8Hu/ai-broker/internal/bot"
	"github.com/suPer8Hu/ai-broker/internal/broker"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/db"
	"github.com/suPer8Hu/ai-broker/internal/draft"
	"github.com/suPer8Hu/ai-broker/internal/history"
	"github.com/suPer8Hu/ai-broker/internal/ledger"
	"github.com/suPer8Hu/ai-broker/internal/lock"
	"github.com/suPer8Hu/ai-broker/internal/payment"
	"github.com/suPer8Hu/ai-broker/internal/profile"
	"github.com/suPer8Hu/ai-broker/internal/wizard"
)

type App struct {
	Cfg        config.Config
	DB         *gorm.DB
	Runtime    *config.RuntimeStore
	Ledger     *ledger.Ledger
	Drafts     *draft.Store
	History    *history.Repo
	Profiles   *profile.Store
	Wizard     *wizard.Engine
	Broker     *broker.Service
	Payments   *payment.Service
	Dispatcher *bot.Dispatcher
	Notifier   bot.Notifier

	redis *goredis.Client
}

// Models lists every table the broker owns.
func Models() []any {
	var out []any
	out = append(out, ledger.Models()...)
	out = append(out, draft.Models()...)
	out = append(out, history.Models()...)
	out = append(out, profile.Models()...)
	return out
}

// Open connects the store and runs migrations, without building the rest.
func Open(cfg config.Config) (*gorm.DB, error) {
	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return gdb, nil
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	gdb, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	rt, err := config.NewRuntimeStore(cfg.OverridesPath)
	if err != nil {
		return nil, err
	}
	gen, err := ai.DefaultRegistry(cfg).Get(ctx, cfg.AIProvider, "")
	if err != nil {
		return nil, err
	}
	return build(ctx, cfg, gdb, rt, gen)
}

// NewWith wires an App around an existing store and generator.
func NewWith(ctx context.Context, cfg config.Config, gdb *gorm.DB, rt *config.RuntimeStore, gen ai.Generator) (*App, error) {
	return build(ctx, cfg, gdb, rt, gen)
}

func build(ctx context.Context, cfg config.Config, gdb *gorm.DB, rt *config.RuntimeStore, gen ai.Generator) (*App, error) {
	a := &App{Cfg: cfg, DB: gdb, Runtime: rt}

	a.Ledger = ledger.New(gdb, rt)
	a.Drafts = draft.NewStore(gdb, func() time.Duration { return rt.Current().DraftTTL })
	a.History = history.NewRepo(gdb)
	a.Profiles = profile.NewStore(gdb)
	a.Wizard = wizard.NewEngine(cfg.SessionIdleTimeout, wizard.Builtin()...)
	a.Broker = broker.NewService(a.Ledger, a.Drafts, a.History, gen, rt, cfg.GenerationTimeout)
	a.Payments = payment.NewService(a.Ledger, a.Drafts, a.Broker, rt, cfg.InvoiceSecret)
	a.Notifier = bot.NewNotifier(cfg.TransportNotifyURL)

	locker, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = bot.NewDispatcher(bot.Deps{
		Wizard:   a.Wizard,
		Broker:   a.Broker,
		Payments: a.Payments,
		Ledger:   a.Ledger,
		Drafts:   a.Drafts,
		History:  a.History,
		Profiles: a.Profiles,
		Runtime:  rt,
		Locker:   locker,
	})
	return a, nil
}

func (a *App) locker(ctx context.Context) (lock.Locker, error) {
	if a.Cfg.LockBackend != "redis" {
		return lock.NewMemoryLocker(), nil
	}
	a.redis = goredis.NewClient(&goredis.Options{
		Addr:     a.Cfg.RedisAddr,
		Password: a.Cfg.RedisPassword,
		DB:       a.Cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("using redis user lock", "addr", a.Cfg.RedisAddr)
	return lock.NewRedisLocker(a.redis, lock.WithTTL(a.Cfg.GenerationTimeout+time.Minute)), nil
}

// StartMaintenance drops idle wizard sessions until ctx ends. With
// draftSweep > 0 it also sweeps expired drafts at that interval.
func (a *App) StartMaintenance(ctx context.Context, draftSweep time.Duration) {
	if draftSweep > 0 {
		a.Drafts.StartSweeper(ctx, draftSweep)
	}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := a.Wizard.Sweep(); n > 0 {
					slog.Debug("idle sessions dropped", "count", n)
				}
			}
		}
	}()
}

// ProcessPayment applies one gateway callback and delivers the resulting
// reply out of band. Invalid invoices are reported as payment.ErrInvalidInvoice
// and never retried by callers; store errors are returned for retry.
func (a *App) ProcessPayment(ctx context.Context, cb payment.Callback) error {
	unlock, err := a.Dispatcher.Locker.Lock(ctx, cb.UserID)
	if err != nil {
		return fmt.Errorf("lock user %d: %w", cb.UserID, err)
	}
	defer unlock()

	res, err := a.Payments.OnSuccess(ctx, cb)
	switch {
	case errors.Is(err, payment.ErrInvalidInvoice):
		return err
	case err != nil && res.Kind != payment.DraftFailed:
		return err
	}
	slog.Info("payment applied", "user_id", cb.UserID, "charge_id", cb.ExternalChargeID, "result", res.Kind)

	reply := a.Dispatcher.PaymentReply(ctx, res, err)
	if reply.Text == "" {
		return nil
	}
	if nerr := a.Notifier.Notify(ctx, cb.UserID, reply); nerr != nil {
		slog.Error("payment reply not delivered", "user_id", cb.UserID, "charge_id", cb.ExternalChargeID, "error", nerr)
	}
	return nil
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
