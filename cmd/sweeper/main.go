package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropfill/dropfill/internal/config"
	kafkax "github.com/dropfill/dropfill/internal/kafka"
	"github.com/dropfill/dropfill/internal/notify"
	"github.com/dropfill/dropfill/internal/pledges"
	"github.com/dropfill/dropfill/internal/postgres"
	"github.com/dropfill/dropfill/internal/telemetry"
)

// The sweeper periodically moves active pledges past their expiry into
// the expired terminal state and tells the customers. Fulfillment itself is
// event-driven; only expiry needs a clock.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName + "-sweeper")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, pledges.TopicNotifyRequest, 256)
	prod.Start(ctx)
	sink := &notify.KafkaSink{Producer: prod, Service: cfg.ServiceName + "-sweeper"}

	repo := &pledges.Repo{DB: db}

	go func() {
		t := time.NewTicker(cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				sweep(ctx, repo, sink, now.UTC())
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down sweeper...")
	cancel()
	prod.Close()
	prod.WaitClosed()
}

func sweep(ctx context.Context, repo *pledges.Repo, sink *notify.KafkaSink, now time.Time) {
	expired, err := repo.ExpireDue(ctx, now)
	if err != nil {
		slog.Error("expiry sweep failed", "err", err)
		return
	}
	for _, e := range expired {
		telemetry.ExpiredPledgesTotal.Inc()
		if err := sink.Enqueue(ctx, e.CustomerID, pledges.NotifyPledgeExpired,
			map[string]string{"pledge_id": e.ID}); err != nil {
			slog.Warn("expiry notification dropped", "pledge_id", e.ID, "err", err)
		}
	}
	if len(expired) > 0 {
		slog.Info("expiry sweep", "expired", len(expired))
	}
}
