package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"channel-sub-bot/bot"
	"channel-sub-bot/config"
	"channel-sub-bot/flow"
	"channel-sub-bot/httpapi"
	"channel-sub-bot/lifecycle"
	"channel-sub-bot/logger"
	"channel-sub-bot/metrics"
	"channel-sub-bot/notify"
	"channel-sub-bot/session"
	"channel-sub-bot/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Log.Sync() }()

	if err := run(cfg); err != nil {
		logger.Log.Error("bot stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := store.Open(cfg.DatabaseURL, store.WithTimeout(cfg.StoreTimeout), store.WithMetrics(m))
	if err != nil {
		return err
	}
	defer db.Close()

	engine := lifecycle.New(db,
		lifecycle.WithSubscriptionEnd(cfg.SubscriptionEndDate()),
		lifecycle.WithSubscriptionDays(cfg.SubscriptionDays),
		lifecycle.WithMetrics(m),
	)

	b, err := bot.NewBot(cfg.BotToken, cfg.PollTimeout, cfg.SendTimeout)
	if err != nil {
		return err
	}

	notifier := notify.New(b, cfg.Admins,
		notify.WithSendTimeout(cfg.SendTimeout),
		notify.WithBatchSize(cfg.BroadcastBatchSize),
		notify.WithRate(cfg.BroadcastRate),
		notify.WithMinSuccess(cfg.BroadcastMinSuccess),
		notify.WithMetrics(m),
	)

	f := flow.New(flow.Deps{
		Store:       db,
		Engine:      engine,
		Notifier:    notifier,
		Sessions:    session.NewStore(),
		Admins:      cfg.Admins,
		BotUsername: b.Username(),
	})
	b.Register(f, f.Machine().Commands(), f.Machine().Actions())

	// Scheduler
	c := cron.New()
	if _, err := c.AddFunc(cfg.ExpirySchedule, func() {
		_, _ = engine.ExpireSubscriptions(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return httpapi.Serve(gctx, cfg.MetricsAddr, httpapi.NewRouter(reg, db))
		})
	}
	g.Go(func() error {
		b.Start(gctx)
		return nil
	})

	logger.Log.Info("bot started",
		logger.String("username", b.Username()),
		logger.Int("admins", len(cfg.Admins)),
	)
	return g.Wait()
}
