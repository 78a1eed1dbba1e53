package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropfill/dropfill/internal/config"
	kafkax "github.com/dropfill/dropfill/internal/kafka"
	"github.com/dropfill/dropfill/internal/notify"
	"github.com/dropfill/dropfill/internal/pledges"
	"github.com/dropfill/dropfill/internal/redisx"
	"github.com/dropfill/dropfill/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName + "-notifier")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	worker := &notify.Worker{
		Redis: rdb,
		Dedup: &redisx.Dedup{RDB: rdb, Service: "notifier"},
	}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, pledges.TopicNotifyRequest, workers)

	go func() {
		log.Printf("notifier consumer started: group=%s topic=%s workers=%d", group, pledges.TopicNotifyRequest, workers)
		if err := cons.Start(ctx, worker.Handle); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
