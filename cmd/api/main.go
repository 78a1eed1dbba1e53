package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropfill/dropfill/internal/config"
	"github.com/dropfill/dropfill/internal/discounts"
	"github.com/dropfill/dropfill/internal/fulfill"
	"github.com/dropfill/dropfill/internal/httpx"
	"github.com/dropfill/dropfill/internal/ingest"
	kafkax "github.com/dropfill/dropfill/internal/kafka"
	"github.com/dropfill/dropfill/internal/notify"
	"github.com/dropfill/dropfill/internal/payments"
	"github.com/dropfill/dropfill/internal/pledges"
	"github.com/dropfill/dropfill/internal/postgres"
	"github.com/dropfill/dropfill/internal/redisx"
	"github.com/dropfill/dropfill/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	telemetry.InitLogger(cfg.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	pNotify := kafkax.NewProducer(cfg.KafkaBrokers, pledges.TopicNotifyRequest, 1024)
	pNotify.Start(ctx)
	pFulfilled := kafkax.NewProducer(cfg.KafkaBrokers, pledges.TopicPledgeFulfilled, 1024)
	pFulfilled.Start(ctx)
	pPrice := kafkax.NewProducer(cfg.KafkaBrokers, pledges.TopicPriceChanged, 1024)
	pPrice.Start(ctx)
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, pledges.TopicPledgeCreated, 1024)
	pCreated.Start(ctx)
	producers := []*kafkax.Producer{pNotify, pFulfilled, pPrice, pCreated}

	// Repos
	repo := &pledges.Repo{DB: db}
	products := &pledges.ProductRepo{DB: db}

	// Matcher core
	matcher := &fulfill.Matcher{
		Store:     &matcherStore{repo, products},
		Payments:  payments.New(cfg.PaymentAPIURL, cfg.AdapterTimeout),
		Discounts: discounts.New(cfg.DiscountAPIURL, cfg.AdapterTimeout),
		Notify:    &notify.KafkaSink{Producer: pNotify, Service: cfg.ServiceName},
		Events:    pFulfilled,
		Service:   cfg.ServiceName,
		Timeout:   cfg.AdapterTimeout,
	}

	// Ingestor
	ing := &ingest.Ingestor{
		Products: products,
		Matcher:  matcher,
		Dedup:    &redisx.Dedup{RDB: rdb, Service: cfg.ServiceName},
		Events:   pPrice,
		Service:  cfg.ServiceName,
	}

	// Handlers
	router := httpx.NewRouter()
	(&httpx.WebhooksHandler{Ingest: ing}).Register(router)
	(&httpx.PledgesHandler{
		Pledges:  repo,
		Products: products,
		Matcher:  matcher,
		Producer: pCreated,
		Redis:    rdb,
		Service:  cfg.ServiceName,
	}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close() // close inbox -> flush & close writer
	}
	cancel() // stop producer loops
	for _, p := range producers {
		p.WaitClosed() // drain
	}
}

// matcherStore joins the pledge and product repos into the single store
// surface the matcher consumes.
type matcherStore struct {
	*pledges.Repo
	*pledges.ProductRepo
}
